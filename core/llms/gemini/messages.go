package gemini

import (
	"encoding/json"

	"github.com/jinzhu/copier"

	"github.com/matijarozman/muse-core/core/llms"
)

const (
	roleUser     = "user"
	roleModel    = "model"
	roleFunction = "function"
)

type generateContentRequest struct {
	Contents          []content   `json:"contents"`
	SystemInstruction *content    `json:"systemInstruction,omitempty"`
	Tools             []tool      `json:"tools,omitempty"`
	ToolConfig        *toolConfig `json:"toolConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *blob             `json:"inlineData,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type functionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type functionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type tool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type toolConfig struct {
	FunctionCallingConfig *functionCallingConfig `json:"functionCallingConfig,omitempty"`
}

type functionCallingConfig struct {
	Mode string `json:"mode,omitempty"`
}

type generateContentResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
}

type candidate struct {
	Content      *content `json:"content,omitempty"`
	FinishReason string   `json:"finishReason,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// translateTurns maps the shared turn vocabulary onto wire contents. Tool
// result turns become function-role contents so the model sees them as
// resolutions of its own calls, everything else keeps its role. A trailing
// prompt, when present, is appended as a fresh user content.
func translateTurns(turns []llms.Turn, prompt *string) []content {
	contents := make([]content, 0, len(turns)+1)
	for _, turn := range turns {
		if translated, ok := translateTurn(turn); ok {
			contents = append(contents, translated)
		}
	}

	if prompt != nil {
		contents = append(contents, content{
			Role:  roleUser,
			Parts: []part{{Text: *prompt}},
		})
	}
	return contents
}

func translateTurn(turn llms.Turn) (content, bool) {
	if turn.IsResolution() {
		parts := make([]part, 0, len(turn.ToolResults))
		for _, result := range turn.ToolResults {
			parts = append(parts, part{FunctionResponse: &functionResponse{
				Name:     result.Name,
				Response: toolResultPayload(result),
			}})
		}
		return content{Role: roleFunction, Parts: parts}, len(parts) > 0
	}

	var parts []part
	if turn.Text != "" {
		parts = append(parts, part{Text: turn.Text})
	}
	for _, call := range turn.ToolCalls {
		parts = append(parts, part{FunctionCall: &functionCall{
			Name: call.Name,
			Args: call.Arguments,
		}})
	}
	if len(parts) == 0 {
		return content{}, false
	}

	role := roleUser
	if turn.Role == llms.RoleModel {
		role = roleModel
	}
	return content{Role: role, Parts: parts}, true
}

func toolResultPayload(result llms.ToolResult) map[string]any {
	if result.Err != "" {
		return map[string]any{"error": result.Err}
	}
	return map[string]any{"result": result.Result}
}

func systemContent(instructions string) *content {
	if instructions == "" {
		return nil
	}
	return &content{Parts: []part{{Text: instructions}}}
}

func translateTools(tools []llms.Tool) []tool {
	if len(tools) == 0 {
		return nil
	}

	declarations := []functionDeclaration{}
	copier.Copy(&declarations, &tools)
	for i := range declarations {
		declarations[i].Parameters = sanitizeSchema(declarations[i].Parameters)
	}
	return []tool{{FunctionDeclarations: declarations}}
}

// sanitizeSchema strips JSON Schema keywords the API rejects. Reflected
// schemas carry draft metadata and closed-object markers that the function
// declaration endpoint refuses, so they are removed recursively.
func sanitizeSchema(schema json.RawMessage) json.RawMessage {
	if len(schema) == 0 {
		return nil
	}

	var decoded map[string]any
	if err := json.Unmarshal(schema, &decoded); err != nil {
		return schema
	}
	sanitizeSchemaMap(decoded)

	cleaned, err := json.Marshal(decoded)
	if err != nil {
		return schema
	}
	return cleaned
}

func sanitizeSchemaMap(schema map[string]any) {
	for _, key := range []string{"$schema", "$id", "$ref", "$defs", "definitions", "additionalProperties"} {
		delete(schema, key)
	}

	if properties, ok := schema["properties"].(map[string]any); ok {
		for _, value := range properties {
			if property, ok := value.(map[string]any); ok {
				sanitizeSchemaMap(property)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		sanitizeSchemaMap(items)
	}
	for _, key := range []string{"anyOf", "allOf", "oneOf"} {
		variants, ok := schema[key].([]any)
		if !ok {
			continue
		}
		for _, value := range variants {
			if variant, ok := value.(map[string]any); ok {
				sanitizeSchemaMap(variant)
			}
		}
	}
}
