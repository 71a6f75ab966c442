// Package toolschema generates Ollama-compatible JSON Schema function
// definitions from a native tool's Go parameter struct via reflection, so a
// tool author only ever writes the struct, never the schema by hand.
package toolschema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Generator converts Go structs into JSON Schema objects.
type Generator struct{}

// NewGenerator returns a ready-to-use Generator. It carries no state; a
// single instance may be shared across goroutines.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate produces the JSON Schema object for a parameter struct (or
// pointer to one).
func (g *Generator) Generate(params interface{}) (map[string]interface{}, error) {
	t := reflect.TypeOf(params)
	if t == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}, nil
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("toolschema: expected struct, got %s", t.Kind())
	}
	return g.object(t), nil
}

// FunctionSchema builds the full `{type: "function", function: {...}}`
// envelope the upstream daemon expects a tool definition to take.
// destructive is folded into the function schema as an `x-destructive`
// extension field so the Tool Registry's manifest-sourced flag survives
// round-tripping through the wire representation.
func (g *Generator) FunctionSchema(name, description string, params interface{}, destructive bool) (map[string]interface{}, error) {
	paramSchema, err := g.Generate(params)
	if err != nil {
		return nil, err
	}
	fn := map[string]interface{}{
		"name":        name,
		"description": description,
		"parameters":  paramSchema,
	}
	if destructive {
		fn["x-destructive"] = true
	}
	return map[string]interface{}{
		"type":     "function",
		"function": fn,
	}, nil
}

func (g *Generator) object(t reflect.Type) map[string]interface{} {
	properties := make(map[string]interface{})
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name := fieldName(field, jsonTag)
		if name == "" {
			continue
		}

		fieldSchema := g.field(field)
		if desc := field.Tag.Get("description"); desc != "" {
			fieldSchema["description"] = desc
		}
		applyConstraints(field.Tag.Get("schema"), fieldSchema)

		if !strings.Contains(jsonTag, "omitempty") {
			required = append(required, name)
		}
		properties[name] = fieldSchema
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (g *Generator) field(field reflect.StructField) map[string]interface{} {
	t := field.Type
	schema := make(map[string]interface{})

	switch t.Kind() {
	case reflect.String:
		schema["type"] = "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		schema["type"] = "integer"
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		schema["type"] = "integer"
		schema["minimum"] = 0
	case reflect.Float32, reflect.Float64:
		schema["type"] = "number"
	case reflect.Bool:
		schema["type"] = "boolean"
	case reflect.Slice, reflect.Array:
		schema["type"] = "array"
		elem := t.Elem()
		if elem.Kind() == reflect.Struct && elem.String() != "time.Time" {
			schema["items"] = g.object(elem)
		} else {
			schema["items"] = g.field(reflect.StructField{Type: elem})
		}
	case reflect.Map:
		schema["type"] = "object"
		if t.Elem().Kind() != reflect.Interface {
			schema["additionalProperties"] = g.field(reflect.StructField{Type: t.Elem()})
		}
	case reflect.Struct:
		if t.String() == "time.Time" {
			schema["type"] = "string"
			schema["format"] = "date-time"
		} else {
			return g.object(t)
		}
	case reflect.Ptr:
		return g.field(reflect.StructField{Name: field.Name, Type: t.Elem(), Tag: field.Tag})
	default:
		schema["type"] = "string"
	}
	return schema
}

func applyConstraints(tag string, schema map[string]interface{}) {
	if tag == "" {
		return
	}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "enum:"):
			schema["enum"] = strings.Split(part[len("enum:"):], "|")
		case strings.HasPrefix(part, "min:"):
			setNumber(schema, "minimum", part[len("min:"):])
		case strings.HasPrefix(part, "max:"):
			setNumber(schema, "maximum", part[len("max:"):])
		case strings.HasPrefix(part, "pattern:"):
			schema["pattern"] = part[len("pattern:"):]
		case strings.HasPrefix(part, "format:"):
			schema["format"] = part[len("format:"):]
		case strings.HasPrefix(part, "default:"):
			setDefault(schema, part[len("default:"):])
		}
	}
}

func setNumber(schema map[string]interface{}, key, raw string) {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		schema[key] = v
	}
}

func setDefault(schema map[string]interface{}, raw string) {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		schema["default"] = v
	} else {
		schema["default"] = raw
	}
}

func fieldName(field reflect.StructField, jsonTag string) string {
	if jsonTag == "" {
		return field.Name
	}
	name := strings.TrimSpace(strings.Split(jsonTag, ",")[0])
	if name == "" {
		return field.Name
	}
	return name
}
