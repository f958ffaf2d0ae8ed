package signal

import (
	"encoding/json"
	"net/url"
	"strings"
)

// ParseError reports a body no decoding strategy could make sense of.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse webhook payload: " + e.Reason
}

// DecodeBody turns an arbitrary webhook body into a string-keyed mapping.
// Charting tools deliver alerts in several shapes (plain JSON, JSON stuffed
// into a single form field, alert('{...}') wrappers, bare query strings),
// so decoding tries each in turn. Schema validation is the caller's job.
func DecodeBody(body []byte, contentType string) (map[string]any, error) {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return nil, &ParseError{Reason: "empty body"}
	}

	// 1. declared JSON
	if strings.Contains(contentType, "application/json") {
		if m := decodeJSONMap(raw); m != nil {
			return m, nil
		}
	}

	// 2. form-encoded: the whole payload is often a single form key
	// holding JSON text
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		if m := decodeForm(raw); m != nil {
			return m, nil
		}
	}

	// 3. call-wrapper such as alert('{...}')
	if i := strings.Index(raw, "{"); i > 0 {
		if j := strings.LastIndex(raw, "}"); j > i {
			if m := decodeJSONMap(raw[i : j+1]); m != nil {
				return m, nil
			}
		}
	}

	// 4. bare JSON object without the content-type header
	if strings.HasPrefix(raw, "{") {
		if m := decodeJSONMap(raw); m != nil {
			return m, nil
		}
	}

	// 5. query-string style key=value pairs
	if strings.Contains(raw, "=") {
		if values, err := url.ParseQuery(raw); err == nil {
			if m := valuesToMap(values); len(m) > 0 {
				return m, nil
			}
		}
	}

	return nil, &ParseError{Reason: "no decodable data"}
}

func decodeJSONMap(s string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// decodeForm handles form bodies. The first field name is tried as JSON
// first; failing that the fields themselves become the mapping.
func decodeForm(raw string) map[string]any {
	if key := firstFormKey(raw); key != "" {
		if m := decodeJSONMap(key); m != nil {
			return m
		}
	}
	values, err := url.ParseQuery(raw)
	if err != nil || len(values) == 0 {
		return nil
	}
	return valuesToMap(values)
}

// firstFormKey returns the decoded name of the first field in a raw
// form body, preserving the order the client sent.
func firstFormKey(raw string) string {
	pair, _, _ := strings.Cut(raw, "&")
	name, _, _ := strings.Cut(pair, "=")
	decoded, err := url.QueryUnescape(name)
	if err != nil {
		return ""
	}
	return decoded
}

func valuesToMap(values url.Values) map[string]any {
	m := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			m[k] = vs[0]
		}
	}
	return m
}
