package toolschema

import "testing"

type searchParams struct {
	Query   string `json:"query" description:"search text"`
	Limit   int    `json:"limit,omitempty" schema:"min:1,max:50,default:10"`
	Mode    string `json:"mode,omitempty" schema:"enum:fast|thorough"`
	Nested  struct {
		Flag bool `json:"flag"`
	} `json:"nested,omitempty"`
}

func TestGenerateBasicFields(t *testing.T) {
	g := NewGenerator()
	schema, err := g.Generate(searchParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	props := schema["properties"].(map[string]interface{})

	query := props["query"].(map[string]interface{})
	if query["type"] != "string" || query["description"] != "search text" {
		t.Fatalf("unexpected query schema: %+v", query)
	}

	limit := props["limit"].(map[string]interface{})
	if limit["minimum"] != float64(1) || limit["maximum"] != float64(50) || limit["default"] != float64(10) {
		t.Fatalf("unexpected limit constraints: %+v", limit)
	}

	mode := props["mode"].(map[string]interface{})
	enum, ok := mode["enum"].([]string)
	if !ok || len(enum) != 2 {
		t.Fatalf("unexpected mode enum: %+v", mode)
	}

	required, ok := schema["required"].([]string)
	if !ok || len(required) != 1 || required[0] != "query" {
		t.Fatalf("expected only query required, got %+v", schema["required"])
	}
}

func TestFunctionSchemaCarriesDestructiveFlag(t *testing.T) {
	g := NewGenerator()
	fs, err := g.FunctionSchema("delete_file", "deletes a file", searchParams{}, true)
	if err != nil {
		t.Fatalf("FunctionSchema: %v", err)
	}
	fn := fs["function"].(map[string]interface{})
	if fn["x-destructive"] != true {
		t.Fatalf("expected x-destructive flag, got %+v", fn)
	}
}

func TestFunctionSchemaOmitsDestructiveWhenFalse(t *testing.T) {
	g := NewGenerator()
	fs, err := g.FunctionSchema("read_file", "reads a file", searchParams{}, false)
	if err != nil {
		t.Fatalf("FunctionSchema: %v", err)
	}
	fn := fs["function"].(map[string]interface{})
	if _, present := fn["x-destructive"]; present {
		t.Fatal("did not expect x-destructive key when not destructive")
	}
}
