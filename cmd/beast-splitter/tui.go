package main

import (
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/flightaware/beast-splitter/internal/engine"
	"github.com/flightaware/beast-splitter/internal/tui"
)

// runTUI shows the live monitor screen instead of plain log output.
// The engine's event loop runs on its own goroutine for the lifetime of
// the TUI program; quitting the TUI shuts it down.
func runTUI(eng *engine.Engine) error {
	m := tui.New(eng)
	log.SetOutput(tui.Sink(m))
	defer log.SetOutput(os.Stderr)

	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run() }()

	if _, err := tea.NewProgram(m).Run(); err != nil {
		return err
	}
	eng.Shutdown()
	return <-errCh
}
