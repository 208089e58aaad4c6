// Package schema prepares the structured-output JSON Schema for the remote
// service and checks responses against it.
package schema

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
)

// Schema is a decoded JSON Schema document.
type Schema map[string]any

// droppedKeys are constraint and annotation keywords the remote tool
// contract does not accept.
var droppedKeys = []string{
	"uniqueItems", "minItems", "maxItems", "minLength", "maxLength",
	"pattern", "format", "additionalProperties", "$schema", "$id",
	"title", "$comment", "default", "examples",
}

// typePreference picks one type out of a type list. Types not listed keep
// their list position.
var typePreference = []string{"string", "number", "integer", "boolean"}

// Load reads a schema file.
func Load(path string) (Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read %s", path)
	}
	var s Schema
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, eris.Wrapf(err, "schema: parse %s", path)
	}
	if s == nil {
		return nil, eris.Errorf("schema: %s is not an object", path)
	}
	return s, nil
}

// Normalize returns a copy of s reduced to the subset the remote tool
// contract accepts. s is not modified, and Normalize(Normalize(s)) equals
// Normalize(s).
func Normalize(s Schema) Schema {
	out, _ := normalizeNode(deepCopy(map[string]any(s))).(map[string]any)
	return Schema(out)
}

func normalizeNode(v any) any {
	node, ok := v.(map[string]any)
	if !ok {
		return v
	}

	for _, k := range droppedKeys {
		delete(node, k)
	}

	if t, ok := node["type"].([]any); ok {
		if picked, ok := collapseType(t); ok {
			node["type"] = picked
		} else {
			delete(node, "type")
		}
	}

	if enum, ok := node["enum"].([]any); ok {
		kept := make([]any, 0, len(enum))
		for _, e := range enum {
			if e != nil {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			// an empty enum admits no value at all
			delete(node, "enum")
		} else {
			node["enum"] = kept
		}
	}

	if props, ok := node["properties"].(map[string]any); ok {
		for name, p := range props {
			props[name] = normalizeNode(p)
		}
		if req, ok := node["required"].([]any); ok {
			kept := make([]any, 0, len(req))
			for _, r := range req {
				if name, ok := r.(string); ok {
					if _, exists := props[name]; exists {
						kept = append(kept, name)
					}
				}
			}
			node["required"] = kept
		}
	}

	if items, ok := node["items"]; ok {
		node["items"] = normalizeNode(items)
	}

	for _, k := range []string{"anyOf", "oneOf", "allOf"} {
		if list, ok := node[k].([]any); ok {
			for i, sub := range list {
				list[i] = normalizeNode(sub)
			}
		}
	}

	for _, k := range []string{"$defs", "definitions"} {
		if defs, ok := node[k].(map[string]any); ok {
			for name, d := range defs {
				defs[name] = normalizeNode(d)
			}
		}
	}

	return node
}

// collapseType reduces a type list to a single type, ignoring "null".
func collapseType(types []any) (string, bool) {
	present := map[string]bool{}
	var order []string
	for _, t := range types {
		if s, ok := t.(string); ok && s != "null" && !present[s] {
			present[s] = true
			order = append(order, s)
		}
	}
	for _, pref := range typePreference {
		if present[pref] {
			return pref, true
		}
	}
	if len(order) > 0 {
		return order[0], true
	}
	return "", false
}

func deepCopy(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, e := range vv {
			out[k] = deepCopy(e)
		}
		return out
	case Schema:
		return deepCopy(map[string]any(vv))
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
