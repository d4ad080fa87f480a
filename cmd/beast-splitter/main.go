// SPDX-License-Identifier: GPL-2.0-or-later
//
// beast-splitter connects to a single Mode S receiver (Beast or
// Radarcape, over serial or TCP), decodes its Beast-protocol stream
// once, and fans out filtered copies of it to any number of listening
// or outbound downstream clients.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/flightaware/beast-splitter/internal/beast"
	"github.com/flightaware/beast-splitter/internal/client"
	"github.com/flightaware/beast-splitter/internal/engine"
	"github.com/flightaware/beast-splitter/internal/modes"
	"github.com/flightaware/beast-splitter/internal/monitorws"
	"github.com/flightaware/beast-splitter/internal/statusfile"
	"github.com/spf13/cobra"
)

var (
	serialPath  string
	netAddr     string
	fixedBaud   int
	listenSpec  []string
	connectSpec []string
	forceStr    string
	statusFile  string
	statusWS    string
	useTUI      bool
)

var rootCmd = &cobra.Command{
	Use:   "beast-splitter",
	Short: "Split one Mode S Beast receiver feed to many downstream clients",
	Long: `beast-splitter decodes a single receiver's Beast-protocol stream and
distributes it, filtered per connection, to any number of listening or
outbound TCP clients in Beast binary, AVR, or AVR-MLAT format.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&serialPath, "serial", "", "serial device path to the receiver")
	rootCmd.Flags().StringVar(&netAddr, "net", "", "HOST:PORT of the receiver, if connected over TCP instead of serial")
	rootCmd.Flags().IntVar(&fixedBaud, "fixed-baud", 0, "serial baud rate to use instead of autobauding (serial only)")
	rootCmd.Flags().StringArrayVar(&listenSpec, "listen", nil, "[HOST:]PORT[:SETTINGS] to accept downstream client connections on (repeatable)")
	rootCmd.Flags().StringArrayVar(&connectSpec, "connect", nil, "HOST:PORT[:SETTINGS] of a downstream client to dial out to (repeatable)")
	rootCmd.Flags().StringVar(&forceStr, "force", "", "SETTINGS string overriding the receiver's negotiated settings")
	rootCmd.Flags().StringVar(&statusFile, "status-file", "", "path to write a periodic JSON receiver/GPS status snapshot to")
	rootCmd.Flags().StringVar(&statusWS, "status-ws", "", "[HOST:]PORT to serve the same status snapshot over a WebSocket")
	rootCmd.Flags().BoolVar(&useTUI, "tui", false, "show a live monitor TUI instead of plain log output")
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "beast-splitter: fatal: %v\n", r)
			os.Exit(99)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if (serialPath == "") == (netAddr == "") {
		return fmt.Errorf("exactly one of --serial or --net must be given")
	}
	if len(listenSpec) == 0 && len(connectSpec) == 0 {
		return fmt.Errorf("at least one of --listen or --connect is required")
	}

	forced := beast.Settings{}
	if forceStr != "" {
		var err error
		forced, err = beast.FromString(forceStr)
		if err != nil {
			return fmt.Errorf("--force: %w", err)
		}
	}

	var transport interface {
		beast.Transport
		Read(p []byte) (int, error)
	}
	isSerial := serialPath != ""
	if isSerial {
		baud := fixedBaud
		if baud == 0 {
			baud = 115200
		}
		transport = beast.NewSerialTransport(serialPath, baud)
	} else {
		transport = beast.NewNetTransport(netAddr)
	}

	controller := beast.NewController(transport, isSerial, fixedBaud, forced, nil)
	distributor := modes.NewFilterDistributor()
	eng := engine.New(controller, transport, isSerial, distributor)

	if statusFile != "" {
		writer := statusfile.NewWriter(statusFile, eng.Connected)
		writer.UpstreamRadarcape = eng.UpstreamRadarcape
		eng.StatusWriter = writer
		var filter modes.Filter
		filter.ReceiveStatus = true
		eng.Send(func() { distributor.AddClient(writer, filter) })
	}

	if statusWS != "" {
		srv := monitorws.NewServer(statusWS)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("--status-ws: %w", err)
		}
		defer srv.Close()
		var filter modes.Filter
		filter.ReceiveStatus = true
		eng.Send(func() { distributor.AddClient(srv, filter) })
	}

	var listeners []*client.Listener
	for _, spec := range listenSpec {
		addr, settings, err := parseEndpointSpec(spec)
		if err != nil {
			return fmt.Errorf("--listen %q: %w", spec, err)
		}
		l := &client.Listener{
			Addr:              addr,
			InitialSettings:   settings.ApplyDefaults(),
			UpstreamRadarcape: eng.UpstreamRadarcape,
			OnAccept:          eng.AddClient,
			OnDisconnect:      eng.RemoveClient,
			OnSettingsChanged: func(s *client.Session, f modes.Filter) { eng.ClientSettingsChanged(s, f) },
		}
		if err := l.Start(); err != nil {
			return fmt.Errorf("--listen %q: %w", spec, err)
		}
		listeners = append(listeners, l)
	}
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()

	var connectors []*client.Connector
	for _, spec := range connectSpec {
		addr, settings, err := parseEndpointSpec(spec)
		if err != nil {
			return fmt.Errorf("--connect %q: %w", spec, err)
		}
		c := &client.Connector{
			Addr:              addr,
			InitialSettings:   settings.ApplyDefaults(),
			UpstreamRadarcape: eng.UpstreamRadarcape,
			OnConnect:         eng.AddClient,
			OnDisconnect:      eng.RemoveClient,
			OnSettingsChanged: func(s *client.Session, f modes.Filter) { eng.ClientSettingsChanged(s, f) },
		}
		go c.Run()
		connectors = append(connectors, c)
	}
	defer func() {
		for _, c := range connectors {
			c.Stop()
		}
	}()

	if useTUI {
		return runTUI(eng)
	}

	log.Printf("beast-splitter: running (%d listeners, %d outbound connections)", len(listeners), len(connectors))
	return eng.Run()
}

// parseEndpointSpec splits "[HOST:]PORT[:SETTINGS]" (or
// "HOST:PORT[:SETTINGS]" for --connect) into a dialable/bindable
// address and a parsed Settings. The trailing colon-segment is treated
// as SETTINGS only if it parses as one (SETTINGS never contains a
// digit, so a numeric port is never mistaken for it).
func parseEndpointSpec(spec string) (string, beast.Settings, error) {
	idx := strings.LastIndex(spec, ":")
	if idx < 0 {
		return spec, beast.Settings{}, nil
	}
	candidate := spec[idx+1:]
	if candidate == "" {
		return spec, beast.Settings{}, nil
	}
	if settings, err := beast.FromString(candidate); err == nil {
		return spec[:idx], settings, nil
	}
	return spec, beast.Settings{}, nil
}
