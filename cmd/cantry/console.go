package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/iltempo/cantry/assistant"
	"github.com/iltempo/cantry/engine"
	"github.com/iltempo/cantry/events"
)

// console is the operator-facing command handler, generalized from
// the teacher's pattern-editor commands (set/rest/tempo/show) to
// engine-operator commands (event/status/ask/quit).
type console struct {
	eng *engine.Engine
	ai  *assistant.Client // nil if no ANTHROPIC_API_KEY is configured
}

func newConsole(eng *engine.Engine, ai *assistant.Client) *console {
	return &console{eng: eng, ai: ai}
}

// ProcessCommand dispatches a single command line.
func (c *console) ProcessCommand(cmdLine string) error {
	line := strings.TrimSpace(cmdLine)
	if line == "" {
		return nil
	}
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "event":
		return c.handleEvent(args)
	case "status":
		return c.handleStatus(args)
	case "ask":
		return c.handleAsk(strings.TrimSpace(strings.TrimPrefix(line, fields[0])))
	case "history":
		return c.handleHistory(args)
	case "help":
		return c.handleHelp(args)
	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

var knownKinds = map[string]events.Kind{
	"trigger_step":      events.KindTriggerStep,
	"tempo":             events.KindTempo,
	"swing":             events.KindSwing,
	"density":           events.KindDensity,
	"sequence_length":   events.KindSequenceLength,
	"scale_select":      events.KindScaleSelect,
	"root_note_up":      events.KindRootNoteUp,
	"root_note_down":    events.KindRootNoteDown,
	"pattern_preset":    events.KindPatternPreset,
	"direction_pattern": events.KindDirectionPattern,
	"chaos_lock":        events.KindChaosLock,
	"drift":             events.KindDrift,
	"cc_parameter":      events.KindCCParameter,
}

// handleEvent parses "event <kind> <value>" or, for cc_parameter,
// "event cc_parameter <param> <value>" and dispatches it through the
// engine exactly as a mapped MIDI control would.
func (c *console) handleEvent(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: event <kind> <value> | event cc_parameter <param> <value>")
	}
	kind, ok := knownKinds[args[0]]
	if !ok {
		return fmt.Errorf("unknown event kind %q", args[0])
	}

	if kind == events.KindCCParameter {
		if len(args) < 3 {
			return fmt.Errorf("usage: event cc_parameter <param> <value>")
		}
		value, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", args[2], err)
		}
		ev := events.NewSemanticEvent(kind, events.SourceCC, value, 1)
		ev.Param = args[1]
		c.eng.Dispatch(ev)
		return nil
	}

	value, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	c.eng.Dispatch(events.NewSemanticEvent(kind, events.SourceButton, value, 1))
	return nil
}

// handleStatus prints every known parameter, sorted by key, plus
// whether the engine is currently idle.
func (c *console) handleStatus(args []string) error {
	snap := c.eng.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("idle: %v\n", c.eng.IsIdle())
	for _, k := range keys {
		fmt.Printf("  %-24s %v\n", k, snap[k])
	}
	return nil
}

// handleHistory prints the mutation engine's recent applied changes.
func (c *console) handleHistory(args []string) error {
	hist := c.eng.MutationHistory()
	if len(hist) == 0 {
		fmt.Println("(no mutations yet)")
		return nil
	}
	for _, ev := range hist {
		fmt.Printf("%s  %-20s %v -> %v (%s)\n",
			ev.At.Format(time.Kitchen), ev.Parameter, ev.Old, ev.New, ev.Description)
	}
	return nil
}

// handleAsk sends prompt to the assistant and applies every event it
// returns, in order, the same way a mapped physical control would.
func (c *console) handleAsk(prompt string) error {
	if c.ai == nil {
		return fmt.Errorf("no ANTHROPIC_API_KEY configured; 'ask' is unavailable")
	}
	if prompt == "" {
		return fmt.Errorf("usage: ask <request>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	evs, err := c.ai.Translate(ctx, prompt, c.eng.Snapshot())
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		fmt.Println("(assistant returned no directives)")
		return nil
	}
	for _, ev := range evs {
		c.eng.Dispatch(ev)
		fmt.Printf("applied: %s %d %s\n", ev.Kind, ev.Value, ev.Param)
	}
	return nil
}

func (c *console) handleHelp(args []string) error {
	const helpText = `Available commands:
  event <kind> <value>                One of: trigger_step, tempo, swing,
                                       density, sequence_length, scale_select,
                                       root_note_up, root_note_down,
                                       pattern_preset, direction_pattern,
                                       chaos_lock, drift (value is 0-127)
  event cc_parameter <param> <value>  Write directly to a named continuous
                                       parameter (e.g. filter_cutoff)
  status                              Show every parameter's current value
  history                             Show recently applied ambient mutations
  ask <request>                       Ask the assistant to translate a
                                       natural-language request into events
  help                                Show this help message
  quit                                Exit the program`
	fmt.Println(helpText)
	return nil
}

// ReadLoop reads commands from reader until "quit" or EOF, mirroring
// the teacher's own command-loop shape.
func (c *console) ReadLoop(reader io.Reader) error {
	scanner := bufio.NewScanner(reader)

	fmt.Print("> ")
	for scanner.Scan() {
		line := scanner.Text()

		if strings.TrimSpace(strings.ToLower(line)) == "quit" {
			return nil
		}

		if err := c.ProcessCommand(line); err != nil {
			fmt.Printf("Error: %v\n", err)
		}

		fmt.Print("> ")
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}
	return nil
}
