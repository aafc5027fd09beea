// Command cantry is the operator console: it loads a configuration
// file, opens a MIDI output (and, if mapped, a MIDI input), starts the
// engine, and reads operator commands from stdin until "quit".
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"

	"github.com/iltempo/cantry/assistant"
	"github.com/iltempo/cantry/config"
	"github.com/iltempo/cantry/engine"
	"github.com/iltempo/cantry/midi"
	"github.com/iltempo/cantry/telemetry"
)

func isTerminal() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

// processBatchInput reads and executes commands from reader, mirroring
// the teacher's own batch-mode loop (comments echoed, blank lines
// skipped, an explicit exit/quit line short-circuits the rest).
func processBatchInput(reader io.Reader, c *console) (success, shouldExit bool) {
	scanner := bufio.NewScanner(reader)
	hadErrors := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			fmt.Println(line)
			continue
		}
		if strings.ToLower(line) == "exit" || strings.ToLower(line) == "quit" {
			shouldExit = true
			continue
		}

		fmt.Println(">", line)
		if err := c.ProcessCommand(line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			hadErrors = true
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		return false, shouldExit
	}
	return !hadErrors, shouldExit
}

func main() {
	configPath := flag.String("config", "", "path to a TOML configuration file (defaults built in if omitted)")
	scriptFile := flag.String("script", "", "execute commands from file")
	inputPort := flag.Int("input-port", -1, "MIDI input port index to listen on (-1 disables MIDI input)")
	dsn := flag.String("sentry-dsn", os.Getenv("SENTRY_DSN"), "Sentry DSN for telemetry (empty disables it)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	ports, err := midi.ListPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing MIDI ports: %v\n", err)
		os.Exit(1)
	}
	if len(ports) == 0 {
		fmt.Fprintf(os.Stderr, "No MIDI output ports found\n")
		os.Exit(1)
	}

	fmt.Println("Available MIDI ports:")
	for i, port := range ports {
		fmt.Printf("  %d: %s\n", i, port)
	}

	inBatchMode := *scriptFile != "" || !isTerminal()
	portIndex := 0
	if len(ports) > 1 && !inBatchMode {
		fmt.Print("\n")
		rl, err := readline.New(fmt.Sprintf("Select MIDI port (0-%d): ", len(ports)-1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating readline: %v\n", err)
			os.Exit(1)
		}
		input, err := rl.Readline()
		rl.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			os.Exit(1)
		}
		portIndex, err = strconv.Atoi(strings.TrimSpace(input))
		if err != nil || portIndex < 0 || portIndex >= len(ports) {
			fmt.Fprintf(os.Stderr, "Invalid port selection: %s\n", input)
			os.Exit(1)
		}
	}
	fmt.Printf("Using output port %d: %s\n\n", portIndex, ports[portIndex])

	midiOut, err := midi.Open(portIndex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening MIDI port: %v\n", err)
		os.Exit(1)
	}

	var tel *telemetry.Sink
	if *dsn != "" {
		tel, err = telemetry.New(*dsn, "production", "cantry")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing telemetry: %v\n", err)
			os.Exit(1)
		}
	}

	eng, err := engine.New(cfg, midiOut, tel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error constructing engine: %v\n", err)
		os.Exit(1)
	}

	var midiIn *midi.Input
	if *inputPort >= 0 {
		midiIn, err = midi.OpenInput(*inputPort, routesFromMapping(cfg.Mapping), nil, eng.Dispatch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening MIDI input: %v\n", err)
			os.Exit(1)
		}
	}

	var ai *assistant.Client
	if client, err := assistant.NewFromEnv(); err == nil {
		ai = client
	}

	eng.Start()

	cleanup := func() {
		eng.Shutdown()
		if midiIn != nil {
			midiIn.Close()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		cleanup()
		os.Exit(0)
	}()

	fmt.Println("Engine started! Type 'help' for commands, 'quit' to exit.")
	fmt.Println()

	c := newConsole(eng, ai)

	if *scriptFile != "" {
		f, err := os.Open(*scriptFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening script file: %v\n", err)
			os.Exit(2)
		}
		success, shouldExit := processBatchInput(f, c)
		f.Close()
		if shouldExit {
			cleanup()
			if success {
				os.Exit(0)
			}
			os.Exit(1)
		}
		fmt.Println("\nScript completed. Engine continues running. Press Ctrl+C to exit.")
		select {}
	}

	if isTerminal() {
		if err := c.ReadLoop(os.Stdin); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading commands: %v\n", err)
			cleanup()
			os.Exit(1)
		}
	} else {
		success, shouldExit := processBatchInput(os.Stdin, c)
		if shouldExit {
			cleanup()
			if success {
				os.Exit(0)
			}
			os.Exit(1)
		}
		fmt.Println("\nBatch commands completed. Engine continues running. Press Ctrl+C to exit.")
		select {}
	}

	cleanup()
	fmt.Println("Goodbye!")
}

// routesFromMapping converts the configuration's MappingEntry values
// into midi.RouteEntry values. midi does not import config, so this
// conversion lives here.
func routesFromMapping(entries []config.MappingEntry) []midi.RouteEntry {
	out := make([]midi.RouteEntry, 0, len(entries))
	for _, m := range entries {
		kind, ok := knownKinds[m.Kind]
		if !ok {
			continue
		}
		out = append(out, midi.RouteEntry{
			RawNote: m.RawNote,
			RawCC:   m.RawCC,
			Kind:    kind,
			Param:   m.Param,
		})
	}
	return out
}
