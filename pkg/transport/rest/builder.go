package rest

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/saturnines/vacsync/pkg/errors"
)

// templatePattern matches {{name}} placeholders in a path template.
var templatePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Placeholders returns the placeholder names of template in order of appearance.
func Placeholders(template string) []string {
	matches := templatePattern.FindAllStringSubmatch(template, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSpace(m[1]))
	}
	return names
}

// Expand replaces every {{name}} in template with the path-escaped value of
// vars[name]. A placeholder without a value is an error.
func Expand(template string, vars map[string]string) (string, error) {
	var missing []string
	out := templatePattern.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		value, ok := vars[name]
		if !ok || value == "" {
			missing = append(missing, name)
			return match
		}
		return url.PathEscape(value)
	})

	if len(missing) > 0 {
		sort.Strings(missing)
		return "", errors.WrapError(
			fmt.Errorf("no value for %s", strings.Join(missing, ", ")),
			errors.ErrConfiguration,
			fmt.Sprintf("expand %q", template),
		)
	}
	return out, nil
}

// AppendQuery appends a raw query string to target, using ? when target has
// no query yet and & otherwise.
func AppendQuery(target, rawQuery string) string {
	rawQuery = strings.TrimLeft(rawQuery, "?&")
	if rawQuery == "" {
		return target
	}
	if strings.Contains(target, "?") {
		return target + "&" + rawQuery
	}
	return target + "?" + rawQuery
}

// EncodeQuery encodes params in key order.
func EncodeQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return q.Encode()
}
