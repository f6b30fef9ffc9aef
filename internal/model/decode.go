package model

import (
	"strconv"

	"github.com/valyala/fastjson"
)

var parserPool fastjson.ParserPool

// DecodeInto parses a JSON object and appends its fields to r in document
// order. Nested objects and arrays are flattened into dotted names
// ("a.b", "list[0]"); booleans become the strings "true"/"false".
// It reports false when data is not a JSON object.
func DecodeInto(r *Record, data string) bool {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.Parse(data)
	if err != nil || v.Type() != fastjson.TypeObject {
		return false
	}
	flatten(r, "", v)
	return true
}

// ParseRecord decodes a single JSON object into a new record.
func ParseRecord(data string) (Record, bool) {
	var r Record
	ok := DecodeInto(&r, data)
	return r, ok
}

func flatten(r *Record, prefix string, v *fastjson.Value) {
	switch v.Type() {
	case fastjson.TypeObject:
		o, _ := v.Object()
		o.Visit(func(key []byte, child *fastjson.Value) {
			name := string(key)
			if prefix != "" {
				name = prefix + "." + name
			}
			flatten(r, name, child)
		})
	case fastjson.TypeArray:
		items, _ := v.Array()
		for i, child := range items {
			flatten(r, prefix+"["+strconv.Itoa(i)+"]", child)
		}
	case fastjson.TypeString:
		r.Set(prefix, String(string(v.GetStringBytes())))
	case fastjson.TypeNumber:
		r.Set(prefix, Number(string(v.MarshalTo(nil))))
	case fastjson.TypeTrue:
		r.Set(prefix, String("true"))
	case fastjson.TypeFalse:
		r.Set(prefix, String("false"))
	default:
		r.Set(prefix, Null())
	}
}
