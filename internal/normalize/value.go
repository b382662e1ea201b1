package normalize

import (
	"encoding/json"
	"strings"

	"github.com/buger/jsonparser"
)

type kind int

const (
	kindNull kind = iota
	kindScalar
	kindString
	kindArray
	kindObject
)

// value is a decoded JSON node that keeps object members in document order.
type value struct {
	kind  kind
	text  string
	items []value
	keys  []string
	vals  []value
}

// priorityKeys are the sub-keys that stand for an object's main text.
var priorityKeys = []string{"main", "summary", "details", "text"}

func decode(data []byte, dt jsonparser.ValueType) (value, error) {
	switch dt {
	case jsonparser.Object:
		return decodeObject(data)
	case jsonparser.Array:
		return decodeArray(data)
	case jsonparser.String:
		s, err := jsonparser.ParseString(data)
		if err != nil {
			return value{}, err
		}
		return value{kind: kindString, text: s}, nil
	case jsonparser.Null:
		return value{kind: kindNull}, nil
	default:
		return value{kind: kindScalar, text: string(data)}, nil
	}
}

func decodeObject(data []byte) (value, error) {
	v := value{kind: kindObject}
	err := jsonparser.ObjectEach(data, func(key, raw []byte, dt jsonparser.ValueType, _ int) error {
		k, err := jsonparser.ParseString(key)
		if err != nil {
			return err
		}
		child, err := decode(raw, dt)
		if err != nil {
			return err
		}
		v.keys = append(v.keys, k)
		v.vals = append(v.vals, child)
		return nil
	})
	return v, err
}

func decodeArray(data []byte) (value, error) {
	v := value{kind: kindArray}
	var decodeErr error
	_, err := jsonparser.ArrayEach(data, func(raw []byte, dt jsonparser.ValueType, _ int, err error) {
		if decodeErr != nil {
			return
		}
		if err != nil {
			decodeErr = err
			return
		}
		child, err := decode(raw, dt)
		if err != nil {
			decodeErr = err
			return
		}
		v.items = append(v.items, child)
	})
	if err != nil {
		return v, err
	}
	return v, decodeErr
}

// embedded reports whether a string value holds a JSON object or array and
// returns it decoded.
func (v value) embedded() (value, bool) {
	if v.kind != kindString {
		return value{}, false
	}
	s := strings.TrimSpace(v.text)
	if len(s) < 2 {
		return value{}, false
	}
	var dt jsonparser.ValueType
	switch {
	case s[0] == '{' && s[len(s)-1] == '}':
		dt = jsonparser.Object
	case s[0] == '[' && s[len(s)-1] == ']':
		dt = jsonparser.Array
	default:
		return value{}, false
	}
	if !json.Valid([]byte(s)) {
		return value{}, false
	}
	inner, err := decode([]byte(s), dt)
	if err != nil {
		return value{}, false
	}
	return inner, true
}

// lookup returns the member stored under key.
func (v value) lookup(key string) (value, bool) {
	for i, k := range v.keys {
		if k == key {
			return v.vals[i], true
		}
	}
	return value{}, false
}

// coerce flattens any node into a single string.
func (v value) coerce() string {
	switch v.kind {
	case kindNull:
		return ""
	case kindScalar:
		return v.text
	case kindString:
		if inner, ok := v.embedded(); ok {
			return inner.coerce()
		}
		return v.text
	case kindArray:
		parts := make([]string, 0, len(v.items))
		for _, item := range v.items {
			if s := strings.TrimSpace(item.coerce()); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ". ")
	case kindObject:
		var parts []string
		for _, key := range priorityKeys {
			if child, ok := v.lookup(key); ok {
				if s := strings.TrimSpace(child.coerce()); s != "" {
					parts = append(parts, s)
				}
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
		for _, child := range v.vals {
			if s := strings.TrimSpace(child.coerce()); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}
