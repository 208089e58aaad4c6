package schema

import (
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// ValidationError describes the first place a document departs from the
// schema.
type ValidationError struct {
	Path string
	Msg  string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return e.Path + ": " + e.Msg
}

// maxRefDepth bounds $ref chasing on recursive schemas.
const maxRefDepth = 32

// Validate checks doc against s. It covers types, required keys, enums,
// properties, items, local $refs and the anyOf/oneOf/allOf combinators;
// oneOf is checked like anyOf. Keywords Normalize strips are not enforced.
func Validate(s Schema, doc []byte) error {
	if !gjson.ValidBytes(doc) {
		return &ValidationError{Msg: "not valid JSON"}
	}
	v := validator{root: map[string]any(s)}
	return v.check(map[string]any(s), gjson.ParseBytes(doc), "$", 0)
}

type validator struct {
	root map[string]any
}

func (v validator) check(node map[string]any, doc gjson.Result, path string, depth int) error {
	if ref, ok := node["$ref"].(string); ok {
		if depth >= maxRefDepth {
			return &ValidationError{Path: path, Msg: "schema reference too deep"}
		}
		if target, ok := v.resolve(ref); ok {
			return v.check(target, doc, path, depth+1)
		}
	}

	if t, ok := node["type"].(string); ok && !typeMatches(t, doc) {
		return &ValidationError{Path: path, Msg: fmt.Sprintf("expected %s, got %s", t, kindOf(doc))}
	}

	if enum, ok := node["enum"].([]any); ok && len(enum) > 0 && !inEnum(enum, doc) {
		return &ValidationError{Path: path, Msg: fmt.Sprintf("value %s not in enum", doc.Raw)}
	}

	if doc.IsObject() {
		fields := map[string]gjson.Result{}
		doc.ForEach(func(k, val gjson.Result) bool {
			fields[k.String()] = val
			return true
		})
		if req, ok := node["required"].([]any); ok {
			for _, r := range req {
				name, _ := r.(string)
				if _, present := fields[name]; name != "" && !present {
					return &ValidationError{Path: path, Msg: fmt.Sprintf("missing required key %q", name)}
				}
			}
		}
		if props, ok := node["properties"].(map[string]any); ok {
			for name, sub := range props {
				subNode, ok := sub.(map[string]any)
				val, present := fields[name]
				if !ok || !present {
					continue
				}
				if err := v.check(subNode, val, path+"."+name, depth); err != nil {
					return err
				}
			}
		}
	}

	if doc.IsArray() {
		if items, ok := node["items"].(map[string]any); ok {
			for i, el := range doc.Array() {
				if err := v.check(items, el, fmt.Sprintf("%s[%d]", path, i), depth); err != nil {
					return err
				}
			}
		}
	}

	if list, ok := node["allOf"].([]any); ok {
		for _, sub := range list {
			if subNode, ok := sub.(map[string]any); ok {
				if err := v.check(subNode, doc, path, depth); err != nil {
					return err
				}
			}
		}
	}

	for _, k := range []string{"anyOf", "oneOf"} {
		list, ok := node[k].([]any)
		if !ok || len(list) == 0 {
			continue
		}
		var firstErr error
		matched := false
		for _, sub := range list {
			subNode, ok := sub.(map[string]any)
			if !ok {
				continue
			}
			err := v.check(subNode, doc, path, depth)
			if err == nil {
				matched = true
				break
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		if !matched && firstErr != nil {
			return &ValidationError{Path: path, Msg: fmt.Sprintf("matches no %s alternative (%s)", k, firstErr)}
		}
	}

	return nil
}

// resolve follows a local reference such as "#/$defs/step".
func (v validator) resolve(ref string) (map[string]any, bool) {
	if !strings.HasPrefix(ref, "#/") {
		return nil, false
	}
	var cur any = v.root
	for _, part := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
		part = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	out, ok := cur.(map[string]any)
	return out, ok
}

func typeMatches(t string, doc gjson.Result) bool {
	switch t {
	case "object":
		return doc.IsObject()
	case "array":
		return doc.IsArray()
	case "string":
		return doc.Type == gjson.String
	case "number":
		return doc.Type == gjson.Number
	case "integer":
		f := doc.Float()
		return doc.Type == gjson.Number && f == math.Trunc(f)
	case "boolean":
		return doc.IsBool()
	case "null":
		return doc.Type == gjson.Null
	default:
		return true
	}
}

func kindOf(doc gjson.Result) string {
	switch {
	case doc.IsObject():
		return "object"
	case doc.IsArray():
		return "array"
	case doc.IsBool():
		return "boolean"
	}
	switch doc.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.Null:
		return "null"
	}
	return "unknown"
}

func inEnum(enum []any, doc gjson.Result) bool {
	for _, e := range enum {
		switch ev := e.(type) {
		case string:
			if doc.Type == gjson.String && doc.Str == ev {
				return true
			}
		case float64:
			if doc.Type == gjson.Number && doc.Float() == ev {
				return true
			}
		case bool:
			if doc.IsBool() && doc.Bool() == ev {
				return true
			}
		case nil:
			if doc.Type == gjson.Null {
				return true
			}
		}
	}
	return false
}
