package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// scaffoldField names the export-only field that carries the value of a path
// placeholder, e.g. delete_attribute_code for {{attribute}}.
func scaffoldField(placeholder string) string {
	return "delete_" + placeholder + "_code"
}

// addScaffold writes vars onto record as scaffold fields.
func addScaffold(record map[string]interface{}, vars map[string]string) {
	for name, value := range vars {
		record[scaffoldField(name)] = value
	}
}

// stripScaffold removes the scaffold fields of placeholders from record and
// returns their values.
func stripScaffold(record map[string]interface{}, placeholders []string) map[string]string {
	vars := make(map[string]string, len(placeholders))
	for _, name := range placeholders {
		field := scaffoldField(name)
		if value, ok := record[field]; ok {
			vars[name] = stringValue(value)
			delete(record, field)
		}
	}
	return vars
}

// extractField walks a dotted path through nested objects.
func extractField(data interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	current := data
	for _, part := range strings.Split(path, ".") {
		currentMap, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = currentMap[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// recordKey returns the code of record under path, or "".
func recordKey(record map[string]interface{}, path string) string {
	value, ok := extractField(record, path)
	if !ok || value == nil {
		return ""
	}
	return stringValue(value)
}

func stringValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
