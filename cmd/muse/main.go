//go:build cgo

// Command muse is a terminal client for the generation facades: a streamed
// chat conversation with tool calls, a live voice session with transcript
// analysis, and long-running video generation jobs.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	generation "github.com/matijarozman/muse-core/core"
	"github.com/matijarozman/muse-core/core/llms"
	"github.com/matijarozman/muse-core/core/llms/gemini"
)

const chatPrompt = "You are muse, a focused creative companion. " +
	"Keep answers short and concrete, and use the available tools when they help."

type timeParams struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name such as Europe/Ljubljana; defaults to the local timezone"`
}

func localTimeTool() llms.Tool {
	return llms.NewTool("local_time", "Report the current wall-clock time.",
		func(_ context.Context, params timeParams) (string, error) {
			location := time.Local
			if params.Timezone != "" {
				var err error
				if location, err = time.LoadLocation(params.Timezone); err != nil {
					return "", fmt.Errorf("unknown timezone %q", params.Timezone)
				}
			}
			return time.Now().In(location).Format(time.RFC1123), nil
		})
}

func museDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".muse"), nil
}

func run() error {
	_ = godotenv.Load()

	dir, err := museDir()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	credential := llms.ResolveCredential(ctx,
		llms.WithCredentialStore(fileKeyStore{path: filepath.Join(dir, "api_key")}),
	)
	client := gemini.NewClient(credential)

	conversation, err := generation.NewConversation(
		generation.WithCredential(credential),
		generation.WithStreamingLLM(client),
		generation.WithSystemPrompt(chatPrompt),
		generation.WithTools(localTimeTool()),
		generation.WithConversationID("muse-tui"),
		generation.WithHistoryStore(fileHistoryStore{dir: filepath.Join(dir, "history")}, "default"),
	)
	if err != nil {
		return err
	}
	defer conversation.Close()

	poller, err := generation.NewJobPoller(
		generation.WithCredential(credential),
		generation.WithOperationRunner(client),
	)
	if err != nil {
		return err
	}

	svc := &services{
		ctx:          ctx,
		dir:          dir,
		credential:   credential,
		client:       client,
		conversation: conversation,
		poller:       poller,
	}
	defer svc.shutdown()

	program := tea.NewProgram(
		newModel(svc),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	svc.send = program.Send

	_, err = program.Run()
	return err
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "muse:", err)
		os.Exit(1)
	}
}
