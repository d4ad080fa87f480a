// Package tui is a live monitor screen for beast-splitter, shown
// instead of plain log output when --tui is given. Grounded on
// cmd/tui.go's bubbletea Model/Update/View split (tick-driven stats
// refresh, a scrolling event log, lipgloss box styling); the telemetry
// panel there becomes a receiver/client status panel here.
package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/flightaware/beast-splitter/internal/engine"
)

// logEntry mirrors cmd/tui.go's errorLogEntry.
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// logSink is an io.Writer that buffers lines for the TUI to drain each
// tick, so log.Print output never corrupts the alt-screen. Installed in
// place of the default stderr logger for the lifetime of the TUI.
type logSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *logSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := strings.TrimRight(string(p), "\n")
	if line != "" {
		s.lines = append(s.lines, line)
	}
	return len(p), nil
}

func (s *logSink) drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.lines
	s.lines = nil
	return lines
}

type model struct {
	eng           *engine.Engine
	sink          *logSink
	snapshot      engine.Snapshot
	eventLog      []logEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool

	// log is a bubbles viewport so the event log scrolls (arrow keys,
	// page up/down, mouse wheel) instead of always pinning to the tail.
	log      viewport.Model
	logReady bool
	atBottom bool
}

// New builds the initial TUI model for eng, draining log output into
// its own buffer instead of stderr. Install that buffer as the log
// package's output with Sink before starting the program.
func New(eng *engine.Engine) tea.Model {
	ls := &logSink{}
	return model{
		eng:           eng,
		sink:          ls,
		maxLogEntries: 200,
		width:         80,
		height:        24,
		atBottom:      true,
	}
}

// Sink exposes the model's log-capturing Writer so the caller can
// install it with log.SetOutput before starting the program.
func Sink(m tea.Model) io.Writer {
	return m.(model).sink
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), tea.EnterAltScreen)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		m.atBottom = m.log.AtBottom()
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		logHeight := m.height - 12
		if logHeight < 5 {
			logHeight = 5
		}
		logWidth := m.width - 6
		if logWidth < 10 {
			logWidth = 10
		}
		if !m.logReady {
			m.log = viewport.New(logWidth, logHeight)
			m.logReady = true
		} else {
			m.log.Width = logWidth
			m.log.Height = logHeight
		}
		m.renderLog()

	case tickMsg:
		m.snapshot = m.eng.Snapshot()
		for _, line := range m.sink.drain() {
			m.addLogEntry(line, false)
		}
		m.renderLog()
		return m, tickCmd()
	}

	return m, nil
}

func (m *model) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{timestamp: time.Now(), message: message, isError: isError})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// renderLog rebuilds the viewport's content from the event log, keeping
// the scroll position pinned to the tail unless the user has scrolled
// up to read history.
func (m *model) renderLog() {
	if !m.logReady {
		return
	}
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	badStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	var content strings.Builder
	if len(m.eventLog) == 0 {
		content.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.eventLog {
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				content.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), badStyle.Render(entry.message)))
			} else {
				content.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), headerStyle.Render(entry.message)))
			}
		}
	}
	m.log.SetContent(content.String())
	if m.atBottom {
		m.log.GotoBottom()
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	goodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("BEAST-SPLITTER"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render("Press 'q' to quit"))
	s.WriteString("\n\n")

	snap := m.snapshot
	status := strings.Builder{}
	if snap.Connected {
		status.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render("Receiver:"), goodStyle.Render("connected ("+snap.ReceiverType.String()+")")))
	} else {
		status.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render("Receiver:"), badStyle.Render("disconnected")))
	}
	if snap.Autobauding {
		status.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Autobaud:"), warnStyle.Render("probing")))
	}
	syncStyle := goodStyle
	syncText := "synchronized"
	if !snap.GoodSync {
		syncStyle = warnStyle
		syncText = "not synchronized"
	}
	status.WriteString(fmt.Sprintf("%s %s   %s %d   %s %d\n",
		labelStyle.Render("Frame sync:"), syncStyle.Render(syncText),
		labelStyle.Render("Good messages:"), snap.GoodMessages,
		labelStyle.Render("Bad bytes:"), snap.BadBytes,
	))
	status.WriteString(fmt.Sprintf("%s %d", labelStyle.Render("Downstream clients:"), snap.ClientCount))

	s.WriteString(boxStyle.Render(status.String()))
	s.WriteString("\n\n")

	s.WriteString(labelStyle.Render("Recent Events (arrow keys/PgUp/PgDn to scroll):"))
	s.WriteString("\n")

	if !m.logReady {
		s.WriteString(boxStyle.Render(headerStyle.Render("  (no events yet)")))
		return s.String()
	}
	s.WriteString(boxStyle.Render(m.log.View()))

	return s.String()
}
