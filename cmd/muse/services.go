//go:build cgo

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	generation "github.com/matijarozman/muse-core/core"
	"github.com/matijarozman/muse-core/core/audio/miniaudio"
	"github.com/matijarozman/muse-core/core/llms"
	"github.com/matijarozman/muse-core/core/llms/gemini"
)

const (
	liveDialTimeout = 30 * time.Second
	analysisTimeout = time.Minute
)

// services owns the generation facades and runs every remote call off the
// update loop. Results come back as messages through send, so the update loop
// stays the only writer of model state.
type services struct {
	ctx          context.Context
	dir          string
	credential   *llms.Credential
	client       *gemini.Client
	conversation *generation.Conversation
	poller       *generation.JobPoller

	send func(tea.Msg)

	liveMu sync.Mutex
	live   *generation.LiveSession
}

// respond drives one full chat round, streaming fragments and tool activity
// into the program as they happen.
func (s *services) respond(prompt string) {
	go func() {
		_, err := s.conversation.Respond(s.ctx, prompt,
			generation.WithFragmentCallback(func(fragment string) {
				s.send(fragmentMsg{text: fragment})
			}),
			generation.WithToolCallCallback(func(call llms.ToolCall) {
				s.send(toolActivityMsg{note: "calling " + call.Name})
			}),
			generation.WithToolResultCallback(func(result llms.ToolResult) {
				note := result.Name + " returned"
				if result.Err != "" {
					note = result.Name + " failed: " + result.Err
				}
				s.send(toolActivityMsg{note: note})
			}),
		)
		s.send(turnDoneMsg{err: err})
	}()
}

// startLive opens the capture device and dials the live channel. The session
// owns the device from construction on; it is released on teardown.
func (s *services) startLive() {
	go func() {
		s.liveMu.Lock()
		defer s.liveMu.Unlock()
		if s.live != nil {
			s.send(liveStartedMsg{err: errors.New("a live session is already open")})
			return
		}

		capture, err := miniaudio.NewClient()
		if err != nil {
			s.send(liveStartedMsg{err: fmt.Errorf("opening capture device: %w", err)})
			return
		}

		session, err := generation.NewLiveSession(
			generation.WithCredential(s.credential),
			generation.WithLiveChannel(s.client),
			generation.WithCapture(capture),
			generation.WithAnalysisLLM(s.client),
			generation.WithLiveEventCallback(func(event llms.LiveEvent) {
				s.send(liveEventMsg{event: event})
			}),
		)
		if err != nil {
			capture.Close()
			s.send(liveStartedMsg{err: err})
			return
		}

		dialCtx, cancel := context.WithTimeout(s.ctx, liveDialTimeout)
		defer cancel()
		if err := session.Start(dialCtx); err != nil {
			s.send(liveStartedMsg{err: err})
			return
		}

		s.live = session
		s.send(liveStartedMsg{})
	}()
}

// stopLive tears the session down and analyzes whatever transcript it
// collected. It is also the path for sessions the remote side already ended;
// Stop is idempotent there.
func (s *services) stopLive() {
	go func() {
		s.liveMu.Lock()
		session := s.live
		s.live = nil
		s.liveMu.Unlock()
		if session == nil {
			return
		}

		err := session.Stop()
		transcript := session.Transcript()

		var analysis string
		analysisCtx, cancel := context.WithTimeout(s.ctx, analysisTimeout)
		result, analysisErr := session.Analyze(analysisCtx)
		cancel()
		switch {
		case analysisErr == nil:
			analysis = result
		case errors.Is(analysisErr, generation.ErrTranscriptTooShort):
			// Too little was said; the raw transcript alone is enough.
		case err == nil:
			err = analysisErr
		}

		s.send(liveStoppedMsg{transcript: transcript, analysis: analysis, err: err})
	}()
}

// generateVideo submits a long-running job, waits it out and downloads the
// artifact next to the other muse state.
func (s *services) generateVideo(prompt string) {
	go func() {
		artifact, err := s.poller.Generate(s.ctx, llms.JobRequest{
			Prompt:      prompt,
			AspectRatio: "16:9",
		})
		if err != nil {
			s.send(jobDoneMsg{err: err})
			return
		}

		path, err := s.download(*artifact)
		if err != nil {
			// The job itself succeeded; keep the remote artifact reachable.
			s.send(jobDoneMsg{artifact: artifact, err: fmt.Errorf("downloading artifact: %w", err)})
			return
		}
		s.send(jobDoneMsg{artifact: artifact, path: path})
	}()
}

func (s *services) download(artifact llms.Artifact) (string, error) {
	reader, err := s.client.Download(s.ctx, artifact)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	dir := filepath.Join(s.dir, "videos")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, time.Now().Format("20060102-150405")+".mp4")
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(file, reader); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// shutdown releases the microphone if a session is still open when the
// program exits.
func (s *services) shutdown() {
	s.liveMu.Lock()
	session := s.live
	s.live = nil
	s.liveMu.Unlock()
	if session != nil {
		_ = session.Stop()
	}
}
