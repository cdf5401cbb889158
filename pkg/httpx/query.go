package httpx

import (
	"fmt"
	"net/url"
	"strings"
)

// AppendQuery appends the given values to rawURL's query string, preserving
// any query already present. Returns rawURL unchanged when values is empty.
func AppendQuery(rawURL string, values url.Values) string {
	if len(values) == 0 {
		return rawURL
	}
	encoded := values.Encode()
	if encoded == "" {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + encoded
}

// QueryFromAny converts loosely-typed query parameters into url.Values.
// Accepted inputs: url.Values, map[string]string, map[string]any and
// map[string][]string. Nil entries are skipped; scalar values are rendered
// with fmt, slices are appended element-wise.
func QueryFromAny(input any) url.Values {
	switch v := input.(type) {
	case nil:
		return nil
	case url.Values:
		return v
	case map[string][]string:
		return url.Values(v)
	case map[string]string:
		out := url.Values{}
		for k, val := range v {
			out.Set(k, val)
		}
		return out
	case map[string]any:
		out := url.Values{}
		for k, val := range v {
			if val == nil {
				continue
			}
			switch items := val.(type) {
			case []any:
				for _, item := range items {
					if item != nil {
						out.Add(k, fmt.Sprint(item))
					}
				}
			case []string:
				for _, item := range items {
					out.Add(k, item)
				}
			default:
				out.Add(k, fmt.Sprint(val))
			}
		}
		return out
	default:
		return nil
	}
}
