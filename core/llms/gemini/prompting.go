package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/matijarozman/muse-core/core/llms"
)

// Prompt sends a one-shot generation request and waits for the full response.
// Use PromptWithStream when chunks should surface as they arrive.
func (c *Client) Prompt(ctx context.Context, prompt string, opts ...llms.GeneralPromptOption) (*llms.Response, error) {
	ctx, span := tracer.Start(ctx, "prompting gemini")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))

	options := llms.GeneralPromptOptions{}
	for _, opt := range opts {
		opt.ApplyToGeneral(&options)
	}

	request := generateContentRequest{
		Contents:          translateTurns(options.Turns, &prompt),
		SystemInstruction: systemContent(options.Instructions),
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/models/"+c.model+":generateContent", request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation request failed")
		return nil, err
	}

	response, err := parseResponse(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed generation response")
		return nil, err
	}

	span.SetAttributes(attribute.Int("response.length", len(response.Text)))
	return response, nil
}

func parseResponse(body []byte) (*llms.Response, error) {
	var decoded generateContentResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(decoded.Candidates) == 0 || decoded.Candidates[0].Content == nil {
		return nil, fmt.Errorf("response carried no candidates")
	}

	response := llms.Response{}
	var text strings.Builder
	for _, p := range decoded.Candidates[0].Content.Parts {
		if p.FunctionCall != nil {
			response.ToolCalls = append(response.ToolCalls, llms.ToolCall{
				ID:        uuid.NewString(),
				Name:      p.FunctionCall.Name,
				Arguments: p.FunctionCall.Args,
			})
			continue
		}
		text.WriteString(p.Text)
	}
	response.Text = text.String()
	return &response, nil
}
