//go:build cgo

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/matijarozman/muse-core/core/llms"
)

// fileKeyStore persists the API key as a single file under the muse home
// directory.
type fileKeyStore struct {
	path string
}

func (s fileKeyStore) Load(context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s fileKeyStore) Store(_ context.Context, apiKey string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(apiKey+"\n"), 0o600)
}

// fileHistoryStore keeps one JSON turn list per conversation key, so a
// restarted client resumes where the previous run left off.
type fileHistoryStore struct {
	dir string
}

func (s fileHistoryStore) LoadTurns(_ context.Context, key string) ([]llms.Turn, error) {
	data, err := os.ReadFile(s.turnsPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var turns []llms.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decoding history %q: %w", key, err)
	}
	return turns, nil
}

func (s fileHistoryStore) SaveTurns(_ context.Context, key string, turns []llms.Turn) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.turnsPath(key), data, 0o644)
}

func (s fileHistoryStore) turnsPath(key string) string {
	return filepath.Join(s.dir, key+".json")
}
