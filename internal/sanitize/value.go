package sanitize

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Kind tags the shape of a decoded reply value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the JSON shapes a model may return. Exactly
// one payload field is meaningful for a given Kind.
type Value struct {
	Kind   Kind
	Str    string
	Num    json.Number
	Bool   bool
	Items  []Value
	Fields []Field
}

// Field is one key of an object value. Order follows the source text.
type Field struct {
	Key   string
	Value Value
}

// Get returns the value of key in an object.
func (v Value) Get(key string) (Value, bool) {
	for _, f := range v.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// MarshalJSON re-encodes the value, preserving object key order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return []byte(v.Num.String()), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, f := range v.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Key)
			if err != nil {
				return nil, err
			}
			buf.Write(k)
			buf.WriteByte(':')
			b, err := f.Value.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, eris.Errorf("sanitize: cannot encode kind %d", v.Kind)
	}
}

// decode reads one JSON document into a Value.
func decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}
	if dec.More() {
		return Value{}, eris.New("sanitize: trailing data after value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, eris.Wrap(err, "sanitize: read token")
	}

	switch t := tok.(type) {
	case nil:
		return Value{Kind: KindNull}, nil
	case string:
		return Value{Kind: KindString, Str: t}, nil
	case json.Number:
		return Value{Kind: KindNumber, Num: t}, nil
	case bool:
		return Value{Kind: KindBool, Bool: t}, nil
	case json.Delim:
		switch t {
		case '[':
			out := Value{Kind: KindArray, Items: []Value{}}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				out.Items = append(out.Items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, eris.Wrap(err, "sanitize: close array")
			}
			return out, nil
		case '{':
			out := Value{Kind: KindObject, Fields: []Field{}}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, eris.Wrap(err, "sanitize: read key")
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, eris.Errorf("sanitize: unexpected key token %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				out.Fields = append(out.Fields, Field{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, eris.Wrap(err, "sanitize: close object")
			}
			return out, nil
		}
	}
	return Value{}, eris.Errorf("sanitize: unexpected token %v", tok)
}
