package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/matijarozman/muse-core/core/llms"
)

type predictRequest struct {
	Instances  []predictInstance  `json:"instances"`
	Parameters *predictParameters `json:"parameters,omitempty"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	AspectRatio    string `json:"aspectRatio,omitempty"`
	NegativePrompt string `json:"negativePrompt,omitempty"`
}

type operationResponse struct {
	Name     string           `json:"name"`
	Done     bool             `json:"done"`
	Error    *operationError  `json:"error,omitempty"`
	Response *operationResult `json:"response,omitempty"`
}

type operationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type operationResult struct {
	GenerateVideoResponse *generateVideoResponse `json:"generateVideoResponse,omitempty"`
}

type generateVideoResponse struct {
	GeneratedSamples []generatedSample `json:"generatedSamples"`
}

type generatedSample struct {
	Video *videoReference `json:"video,omitempty"`
}

type videoReference struct {
	URI string `json:"uri"`
}

// SubmitOperation starts a long-running video generation and returns its
// handle. Progress is observed by polling the handle, the call itself returns
// as soon as the backend accepts the request.
func (c *Client) SubmitOperation(ctx context.Context, request llms.JobRequest) (llms.Operation, error) {
	ctx, span := tracer.Start(ctx, "submitting gemini operation")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.videoModel))

	payload := predictRequest{
		Instances: []predictInstance{{Prompt: request.Prompt}},
	}
	if request.AspectRatio != "" || request.NegativePrompt != "" {
		payload.Parameters = &predictParameters{
			AspectRatio:    request.AspectRatio,
			NegativePrompt: request.NegativePrompt,
		}
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/models/"+c.videoModel+":predictLongRunning", payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission failed")
		return llms.Operation{}, err
	}

	var decoded operationResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return llms.Operation{}, fmt.Errorf("decoding operation handle: %w", err)
	}
	if decoded.Name == "" {
		return llms.Operation{}, fmt.Errorf("submission returned no operation handle")
	}

	span.SetAttributes(attribute.String("operation.name", decoded.Name))
	return llms.Operation{Name: decoded.Name}, nil
}

// PollOperation fetches the current status of a long-running operation. It
// reports what the backend said and leaves retry policy to the caller.
func (c *Client) PollOperation(ctx context.Context, operation llms.Operation) (llms.OperationStatus, error) {
	ctx, span := tracer.Start(ctx, "polling gemini operation")
	defer span.End()
	span.SetAttributes(attribute.String("operation.name", operation.Name))

	body, err := c.doRequest(ctx, http.MethodGet, "/"+operation.Name, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "poll failed")
		return llms.OperationStatus{}, err
	}

	var decoded operationResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return llms.OperationStatus{}, fmt.Errorf("decoding operation status: %w", err)
	}

	status := llms.OperationStatus{Done: decoded.Done}
	if decoded.Error != nil {
		status.Failure = decoded.Error.Message
	}
	if uri := firstVideoURI(decoded.Response); uri != "" {
		status.Artifact = &llms.Artifact{URI: uri, MimeType: "video/mp4"}
	}

	span.SetAttributes(attribute.Bool("operation.done", status.Done))
	return status, nil
}

// Download fetches a generated artifact. The caller owns closing the reader.
func (c *Client) Download(ctx context.Context, artifact llms.Artifact) (io.ReadCloser, error) {
	apiKey, err := c.credential.Authorize()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifact.URI, nil)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading artifact: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseError(resp)
	}
	return resp.Body, nil
}

func firstVideoURI(result *operationResult) string {
	if result == nil || result.GenerateVideoResponse == nil {
		return ""
	}
	for _, sample := range result.GenerateVideoResponse.GeneratedSamples {
		if sample.Video != nil && sample.Video.URI != "" {
			return sample.Video.URI
		}
	}
	return ""
}
