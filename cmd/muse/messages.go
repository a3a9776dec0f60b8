//go:build cgo

package main

import (
	"github.com/matijarozman/muse-core/core/llms"
)

// Messages delivered into the program from the service goroutines. Everything
// asynchronous arrives through program.Send; the update loop stays the only
// writer of model state.
type (
	// fragmentMsg carries one streamed chunk of the in-flight reply.
	fragmentMsg struct {
		text string
	}

	// toolActivityMsg reports a tool call or its result mid-turn.
	toolActivityMsg struct {
		note string
	}

	// turnDoneMsg ends the in-flight chat turn.
	turnDoneMsg struct {
		err error
	}

	// liveStartedMsg reports the outcome of opening a live session.
	liveStartedMsg struct {
		err error
	}

	// liveEventMsg carries one event from the open live session.
	liveEventMsg struct {
		event llms.LiveEvent
	}

	// liveStoppedMsg ends the live session and carries its analysis.
	liveStoppedMsg struct {
		transcript string
		analysis   string
		err        error
	}

	// jobDoneMsg ends a video generation job. path is the local download
	// destination and is empty when only the remote URI is available.
	jobDoneMsg struct {
		artifact *llms.Artifact
		path     string
		err      error
	}
)
