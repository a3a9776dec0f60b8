package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matijarozman/muse-core/core/llms"
)

func TestPrompt(t *testing.T) {
	var gotPath string
	var gotRequest generateContentRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"The clip is energetic."}]},"finishReason":"STOP"}]}`)
	}))
	defer server.Close()

	client := NewClient(llms.NewCredential("test-key"), WithBaseURL(server.URL))
	response, err := client.Prompt(context.Background(), "Describe the clip",
		llms.WithSystemPrompt("You describe audio clips"),
	)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if response.Text != "The clip is energetic." {
		t.Fatalf("expected response text, got %q", response.Text)
	}
	if gotPath != "/models/"+DefaultModel+":generateContent" {
		t.Fatalf("expected generateContent path, got %q", gotPath)
	}
	if gotRequest.SystemInstruction == nil {
		t.Fatal("expected system instruction in request")
	}
	if len(gotRequest.Contents) != 1 || gotRequest.Contents[0].Parts[0].Text != "Describe the clip" {
		t.Fatalf("expected prompt content, got %+v", gotRequest.Contents)
	}
}

func TestPromptBackendFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"code":500,"message":"backend exploded","status":"INTERNAL"}}`)
	}))
	defer server.Close()

	client := NewClient(llms.NewCredential("test-key"), WithBaseURL(server.URL))
	_, err := client.Prompt(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "backend exploded") {
		t.Fatalf("expected backend message in error, got %v", err)
	}
}

func TestPromptEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer server.Close()

	client := NewClient(llms.NewCredential("test-key"), WithBaseURL(server.URL))
	_, err := client.Prompt(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected an error for a response without candidates")
	}
}

func TestPromptDecodesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"checking"},{"functionCall":{"name":"lookup","args":{"query":"go"}}}]}}]}`)
	}))
	defer server.Close()

	client := NewClient(llms.NewCredential("test-key"), WithBaseURL(server.URL))
	response, err := client.Prompt(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if response.Text != "checking" {
		t.Fatalf("expected text alongside tool call, got %q", response.Text)
	}
	if len(response.ToolCalls) != 1 || response.ToolCalls[0].Name != "lookup" {
		t.Fatalf("expected lookup tool call, got %+v", response.ToolCalls)
	}
}
