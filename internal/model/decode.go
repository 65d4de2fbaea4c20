package model

import (
	"strconv"
	"strings"

	"github.com/valyala/fastjson"
)

var parserPool fastjson.ParserPool

// parse runs fn against the parsed document. Values handed to fn are only
// valid for the duration of the call.
func parse(data []byte, fn func(v *fastjson.Value) error) error {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return err
	}
	return fn(v)
}

// lookup returns the first present, non-null value among the given keys.
func lookup(v *fastjson.Value, keys ...string) *fastjson.Value {
	for _, k := range keys {
		if f := v.Get(k); f != nil && f.Type() != fastjson.TypeNull {
			return f
		}
	}
	return nil
}

func int64Of(f *fastjson.Value) int64 {
	if f == nil {
		return 0
	}
	switch f.Type() {
	case fastjson.TypeNumber:
		if n, err := f.Int64(); err == nil {
			return n
		}
		return int64(f.GetFloat64())
	case fastjson.TypeString:
		n, _ := strconv.ParseInt(strings.TrimSpace(string(f.GetStringBytes())), 10, 64)
		return n
	case fastjson.TypeTrue:
		return 1
	}
	return 0
}

func stringOf(f *fastjson.Value) string {
	if f == nil {
		return ""
	}
	switch f.Type() {
	case fastjson.TypeString:
		return string(f.GetStringBytes())
	case fastjson.TypeNumber:
		return f.String()
	}
	return ""
}

func boolOf(f *fastjson.Value) bool {
	if f == nil {
		return false
	}
	switch f.Type() {
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeNumber:
		return f.GetFloat64() != 0
	case fastjson.TypeString:
		s := string(f.GetStringBytes())
		return s == "1" || strings.EqualFold(s, "true")
	}
	return false
}

func int64Field(v *fastjson.Value, keys ...string) int64 {
	return int64Of(lookup(v, keys...))
}

func stringField(v *fastjson.Value, keys ...string) string {
	return stringOf(lookup(v, keys...))
}
