//go:build cgo

package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/matijarozman/muse-core/core/llms"
)

// line is one committed entry of the chat pane. Entries are stored unwrapped
// and re-wrapped whenever the window size changes.
type line struct {
	style lipgloss.Style
	text  string
}

type model struct {
	svc *services

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model

	lines []line

	// streamBuf accumulates the in-flight reply; it is committed to lines
	// when the turn ends. liveBuf does the same for the live transcript.
	streaming bool
	streamBuf string

	liveOpening bool
	liveOpen    bool
	liveClosing bool
	liveBuf     string

	jobRunning bool

	width  int
	height int
	ready  bool
}

func newModel(svc *services) model {
	input := textinput.New()
	input.Placeholder = "say something, or /live, /video <prompt>, /quit"
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = spinnerStyle

	greeting := line{style: noteStyle, text: "muse is ready"}
	if !svc.credential.Ready() {
		greeting = line{
			style: errorStyle,
			text:  "no API key configured; set GEMINI_API_KEY or write it to ~/.muse/api_key",
		}
	}

	return model{
		svc:   svc,
		input: input,
		spin:  spin,
		lines: []line{greeting},
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		paneHeight := msg.Height - 3
		if paneHeight < 1 {
			paneHeight = 1
		}
		if m.ready {
			m.viewport.Width = msg.Width
			m.viewport.Height = paneHeight
		} else {
			m.viewport = viewport.New(msg.Width, paneHeight)
			m.ready = true
		}
		m.input.Width = msg.Width - 4
		m.refreshPane()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			cmd := m.handleSubmit()
			m.refreshPane()
			return m, cmd
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case fragmentMsg:
		m.streamBuf += msg.text
		m.refreshPane()
		return m, nil

	case toolActivityMsg:
		m.append(noteStyle, msg.note)
		return m, nil

	case turnDoneMsg:
		if m.streamBuf != "" {
			m.append(modelStyle, m.streamBuf)
		}
		m.streaming = false
		m.streamBuf = ""
		if msg.err != nil {
			m.append(errorStyle, msg.err.Error())
		}
		return m, nil

	case liveStartedMsg:
		m.liveOpening = false
		if msg.err != nil {
			m.append(errorStyle, msg.err.Error())
			return m, nil
		}
		m.liveOpen = true
		m.liveBuf = ""
		m.append(noteStyle, "live session open; /live again to stop and analyze")
		return m, nil

	case liveEventMsg:
		switch event := msg.event.(type) {
		case llms.LiveTranscript:
			m.liveBuf += event.Fragment
			m.refreshPane()
		case llms.LiveError:
			if m.liveOpen {
				m.append(errorStyle, "live: "+event.Err.Error())
				m.finishLive()
			}
		case llms.LiveClosed:
			if m.liveOpen {
				if event.Reason != "" {
					m.append(noteStyle, "live channel closed: "+event.Reason)
				}
				m.finishLive()
			}
		}
		return m, nil

	case liveStoppedMsg:
		m.liveOpen = false
		m.liveClosing = false
		m.liveBuf = ""
		if msg.transcript != "" {
			m.append(liveStyle, "you said  "+msg.transcript)
		}
		if msg.analysis != "" {
			m.append(modelStyle, msg.analysis)
		}
		if msg.err != nil {
			m.append(errorStyle, msg.err.Error())
		}
		return m, nil

	case jobDoneMsg:
		m.jobRunning = false
		switch {
		case msg.err != nil && msg.artifact != nil:
			m.append(modelStyle, "video ready at "+msg.artifact.URI)
			m.append(errorStyle, msg.err.Error())
		case msg.err != nil:
			m.append(errorStyle, msg.err.Error())
		default:
			m.append(modelStyle, "video saved to "+msg.path)
		}
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *model) handleSubmit() tea.Cmd {
	value := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")

	switch {
	case value == "":
	case value == "/quit" || value == "/q":
		return tea.Quit
	case value == "/live":
		m.toggleLive()
	case value == "/video" || strings.HasPrefix(value, "/video "):
		m.submitVideo(strings.TrimSpace(strings.TrimPrefix(value, "/video")))
	case strings.HasPrefix(value, "/"):
		m.append(noteStyle, "unknown command "+value+"; try /live, /video <prompt> or /quit")
	default:
		m.sendPrompt(value)
	}
	return nil
}

func (m *model) sendPrompt(prompt string) {
	if m.streaming {
		m.append(noteStyle, "still replying; wait for the turn to finish")
		return
	}
	m.append(userStyle, "you  "+prompt)
	m.streaming = true
	m.streamBuf = ""
	m.svc.respond(prompt)
}

func (m *model) toggleLive() {
	switch {
	case m.liveOpening || m.liveClosing:
		m.append(noteStyle, "live session is still changing state; hold on")
	case m.liveOpen:
		m.finishLive()
	default:
		m.liveOpening = true
		m.svc.startLive()
	}
}

// finishLive hands the open session to the service for teardown and
// analysis. It is also the path for sessions the remote side ended.
func (m *model) finishLive() {
	m.liveOpen = false
	m.liveClosing = true
	m.svc.stopLive()
}

func (m *model) submitVideo(prompt string) {
	switch {
	case prompt == "":
		m.append(noteStyle, "usage: /video <prompt>")
	case m.jobRunning:
		m.append(noteStyle, "a video job is already running")
	default:
		m.jobRunning = true
		m.append(userStyle, "you  /video "+prompt)
		m.append(noteStyle, "video job submitted; this can take a few minutes")
		m.svc.generateVideo(prompt)
	}
}

func (m *model) append(style lipgloss.Style, text string) {
	m.lines = append(m.lines, line{style: style, text: text})
	m.refreshPane()
}

// refreshPane rebuilds the viewport content, following the tail only when
// the user has not scrolled away from it.
func (m *model) refreshPane() {
	if !m.ready {
		return
	}

	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderLines())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *model) renderLines() string {
	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	for _, entry := range m.lines {
		b.WriteString(entry.style.Render(wordwrap.String(entry.text, width)))
		b.WriteByte('\n')
	}
	if m.streaming && m.streamBuf != "" {
		b.WriteString(modelStyle.Render(wordwrap.String(m.streamBuf, width)))
		b.WriteByte('\n')
	}
	if (m.liveOpen || m.liveClosing) && m.liveBuf != "" {
		b.WriteString(liveStyle.Render(wordwrap.String("you said  "+m.liveBuf, width)))
		b.WriteByte('\n')
	}
	return b.String()
}

func (m model) View() string {
	if !m.ready {
		return "starting muse"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.headerView(),
		m.viewport.View(),
		m.statusView(),
		m.input.View(),
	)
}

func (m model) headerView() string {
	header := headerStyle.Render("muse")
	credential := credentialStyle.Render("credential " + string(m.svc.credential.State()))
	gap := m.width - lipgloss.Width(header) - lipgloss.Width(credential)
	if gap < 1 {
		gap = 1
	}
	return header + strings.Repeat(" ", gap) + credential
}

func (m model) statusView() string {
	switch {
	case m.jobRunning:
		return m.spin.View() + statusStyle.Render("rendering video")
	case m.liveOpening:
		return m.spin.View() + statusStyle.Render("opening live session")
	case m.liveClosing:
		return m.spin.View() + statusStyle.Render("analyzing transcript")
	case m.streaming:
		return m.spin.View() + statusStyle.Render("thinking")
	case m.liveOpen:
		return liveStyle.Render("live") + statusStyle.Render("  speak freely, /live to stop")
	default:
		return statusStyle.Render("commands: /live, /video <prompt>, /quit")
	}
}
