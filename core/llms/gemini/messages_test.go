package gemini

import (
	"encoding/json"
	"testing"

	"github.com/matijarozman/muse-core/core/llms"
)

func TestTranslateTurns(t *testing.T) {
	turns := []llms.Turn{
		llms.NewUserTurn("find me something"),
		llms.NewModelTurn("", llms.ToolCall{ID: "call-1", Name: "lookup", Arguments: json.RawMessage(`{"query":"go"}`)}),
		llms.NewResolutionTurn(
			llms.ToolResult{Name: "lookup", Result: "found it"},
			llms.ToolResult{Name: "lookup", Err: "not found"},
		),
		llms.NewModelTurn("here you go"),
	}

	prompt := "thanks"
	contents := translateTurns(turns, &prompt)

	roles := make([]string, 0, len(contents))
	for _, c := range contents {
		roles = append(roles, c.Role)
	}
	expected := []string{roleUser, roleModel, roleFunction, roleModel, roleUser}
	if len(roles) != len(expected) {
		t.Fatalf("expected %d contents, got %d (%v)", len(expected), len(roles), roles)
	}
	for i := range expected {
		if roles[i] != expected[i] {
			t.Fatalf("expected roles %v, got %v", expected, roles)
		}
	}

	call := contents[1].Parts[0].FunctionCall
	if call == nil || call.Name != "lookup" {
		t.Fatalf("expected function call part, got %+v", contents[1].Parts)
	}

	resolutions := contents[2].Parts
	if len(resolutions) != 2 {
		t.Fatalf("expected 2 function responses, got %d", len(resolutions))
	}
	if got := resolutions[0].FunctionResponse.Response["result"]; got != "found it" {
		t.Fatalf("expected result payload, got %v", got)
	}
	if got := resolutions[1].FunctionResponse.Response["error"]; got != "not found" {
		t.Fatalf("expected error payload, got %v", got)
	}

	if contents[4].Parts[0].Text != "thanks" {
		t.Fatalf("expected trailing prompt content, got %+v", contents[4])
	}
}

func TestTranslateTurnsSkipsEmptyTurns(t *testing.T) {
	contents := translateTurns([]llms.Turn{llms.NewModelTurn("")}, nil)
	if len(contents) != 0 {
		t.Fatalf("expected empty turn to be dropped, got %+v", contents)
	}
}

func TestSanitizeSchema(t *testing.T) {
	schema := json.RawMessage(`{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"query": {"type": "string", "additionalProperties": false}
		},
		"required": ["query"]
	}`)

	cleaned := sanitizeSchema(schema)

	var decoded map[string]any
	if err := json.Unmarshal(cleaned, &decoded); err != nil {
		t.Fatalf("expected valid JSON, got %v", err)
	}
	if _, ok := decoded["$schema"]; ok {
		t.Fatal("expected $schema to be stripped")
	}
	if _, ok := decoded["additionalProperties"]; ok {
		t.Fatal("expected additionalProperties to be stripped")
	}
	if decoded["type"] != "object" {
		t.Fatalf("expected type to survive, got %v", decoded["type"])
	}
	properties := decoded["properties"].(map[string]any)
	query := properties["query"].(map[string]any)
	if _, ok := query["additionalProperties"]; ok {
		t.Fatal("expected nested additionalProperties to be stripped")
	}
	if query["type"] != "string" {
		t.Fatalf("expected nested type to survive, got %v", query["type"])
	}
}

func TestSystemContent(t *testing.T) {
	if systemContent("") != nil {
		t.Fatal("expected no system content for empty instructions")
	}
	content := systemContent("Be brief")
	if content == nil || content.Parts[0].Text != "Be brief" {
		t.Fatalf("expected instruction content, got %+v", content)
	}
}
