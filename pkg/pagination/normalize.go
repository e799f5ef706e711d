package pagination

import (
	"github.com/saturnines/vacsync/pkg/errors"
	"github.com/saturnines/vacsync/pkg/transport/rest"
)

// Normalize flattens a page into records and returns the next link, if any.
//
// Precedence: embedded collection (_embedded.items, _links stripped from each
// item), single record (has identifier; headers and status_code stripped),
// bare array. An empty items array is a valid page.
func Normalize(url string, resp *rest.Response) ([]map[string]interface{}, string, error) {
	unrecognized := &errors.UnrecognizedShapeError{URL: url, Body: resp.Body}

	switch v := resp.Value.(type) {
	case map[string]interface{}:
		next := nextLink(v)

		if items, ok := embeddedItems(v); ok {
			records := make([]map[string]interface{}, 0, len(items))
			for _, item := range items {
				rec, ok := item.(map[string]interface{})
				if !ok {
					return nil, "", unrecognized
				}
				delete(rec, "_links")
				records = append(records, rec)
			}
			return records, next, nil
		}

		if _, ok := v["identifier"]; ok {
			delete(v, "headers")
			delete(v, "status_code")
			return []map[string]interface{}{v}, next, nil
		}

	case []interface{}:
		records := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			rec, ok := item.(map[string]interface{})
			if !ok {
				return nil, "", unrecognized
			}
			records = append(records, rec)
		}
		return records, "", nil
	}

	return nil, "", unrecognized
}

func embeddedItems(body map[string]interface{}) ([]interface{}, bool) {
	embedded, ok := body["_embedded"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	items, ok := embedded["items"].([]interface{})
	return items, ok
}

// nextLink returns _links.next.href, or "" when the page is the last one.
func nextLink(body map[string]interface{}) string {
	var cur interface{} = body
	for _, key := range []string{"_links", "next", "href"} {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = obj[key]
	}
	href, _ := cur.(string)
	return href
}
