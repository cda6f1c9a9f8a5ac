package content

import (
	"encoding/json"
	"strings"
)

// listFields are payload fields persisted as JSON-encoded text on the backend
// and exposed as []string everywhere else.
var listFields = map[string]bool{
	"products": true,
	"tags":     true,
}

// aliasFields adds UI-friendly aliases on top of the canonical name.
var aliasFields = map[string]string{
	"businessName": "name",
}

// Normalize maps a raw backend payload (snake_case columns, JSON-encoded
// sub-fields) to the one canonical camelCase shape used everywhere above the
// store boundary. It never fails: malformed list fields become empty lists.
func Normalize(raw map[string]any) Fields {
	out := make(Fields, len(raw))
	for key, value := range raw {
		name := snakeToCamel(key)
		if listFields[name] {
			out[name] = ParseList(value)
			continue
		}
		out[name] = value
	}
	for canonical, alias := range aliasFields {
		if v, ok := out[canonical]; ok {
			if _, taken := out[alias]; !taken {
				out[alias] = v
			}
		}
	}
	return out
}

// Denormalize maps the canonical shape back to backend vocabulary:
// snake_case keys, lists serialized to JSON text. Aliases are dropped so the
// backend only ever sees the canonical column.
func Denormalize(f Fields) map[string]any {
	out := make(map[string]any, len(f))
	for key, value := range f {
		if isAlias(key) {
			continue
		}
		if listFields[key] {
			out[camelToSnake(key)] = EncodeList(ParseList(value))
			continue
		}
		out[camelToSnake(key)] = value
	}
	return out
}

// ParseList coerces a list-valued field to []string. JSON text is decoded;
// malformed input degrades to an empty list, never an error.
func ParseList(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(t) == "" {
			return []string{}
		}
		var out []string
		if err := json.Unmarshal([]byte(t), &out); err != nil || out == nil {
			return []string{}
		}
		return out
	default:
		return []string{}
	}
}

// EncodeList serializes a list field to the JSON text form stored by the
// backend. The empty list encodes as "[]".
func EncodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// ColumnName maps a canonical camelCase field name to its backend column
// vocabulary.
func ColumnName(field string) string {
	return camelToSnake(field)
}

func isAlias(key string) bool {
	for _, alias := range aliasFields {
		if key == alias {
			return true
		}
	}
	return false
}

func snakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
