// Package assistant translates free-form natural language into
// SemanticEvents via Claude, generalizing the teacher's command-string
// generation into the engine's own typed event directives.
package assistant

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/iltempo/cantry/events"
)

const systemPromptTemplate = `You are a musical assistant for Cantry, a generative MIDI engine. Your job is to translate user requests into Cantry event directives.

Respond ONLY with directive lines, one per line, no explanations. Each directive is:

  <kind> <value>

or, for cc_parameter directives:

  cc_parameter <param> <value>

Available kinds and their value range (always a plain integer 0-127):
- trigger_step: manually advance the sequencer one step (value = velocity)
- tempo: 0=slowest, 127=fastest
- swing: 0=straight, 127=maximum swing
- density: 0=silent, 127=always
- sequence_length: 0=shortest, 127=longest
- scale_select: selects a scale by bucket (value / 16)
- root_note_up / root_note_down: value is ignored, use 0
- pattern_preset: selects a gate pattern by bucket (value / 16)
- direction_pattern: selects forward/backward/ping_pong/random/fugue by bucket
- chaos_lock: value is ignored, use 0 (it toggles)
- drift: 0=maximally negative, 127=maximally positive
- cc_parameter <param> <value>: write directly to a named continuous parameter

Current engine state will be provided as key=value pairs. Use it to decide relative adjustments (e.g. "make it faster" means emit a tempo directive higher than the current bpm implies).

Examples:
User: "make it faster"
You: tempo 100

User: "go quiet and sparse"
You: density 20

User: "switch to a minor feel"
You: scale_select 16

User: "open up the filter"
You: cc_parameter filter_cutoff 110
`

var validKinds = map[string]events.Kind{
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

// Client wraps the Claude API client used to translate free text into
// SemanticEvents.
type Client struct {
	client anthropic.Client
}

// New creates a Client from an explicit API key.
func New(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("assistant: ANTHROPIC_API_KEY not set")
	}
	return &Client{client: anthropic.NewClient(option.WithAPIKey(apiKey))}, nil
}

// NewFromEnv creates a Client using the ANTHROPIC_API_KEY environment
// variable.
func NewFromEnv() (*Client, error) {
	return New(os.Getenv("ANTHROPIC_API_KEY"))
}

// Translate asks Claude to turn prompt into zero or more SemanticEvents,
// given a snapshot of the current engine state for context.
func (c *Client) Translate(ctx context.Context, prompt string, snapshot map[string]interface{}) ([]events.SemanticEvent, error) {
	userMessage := fmt.Sprintf("Current state:\n%s\n\nUser request: %s", formatSnapshot(snapshot), prompt)

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.ModelClaude3_5HaikuLatest,
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: systemPromptTemplate},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: claude API error: %w", err)
	}

	var responseText string
	for _, block := range message.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			responseText += b.Text
		}
	}

	return ParseDirectives(responseText), nil
}

// ParseDirectives parses one directive per line into SemanticEvents,
// silently skipping blank lines, comments, and malformed directives —
// the same permissive, line-oriented parsing the teacher's command
// extraction uses.
func ParseDirectives(text string) []events.SemanticEvent {
	var out []events.SemanticEvent
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if ev, ok := parseDirective(line); ok {
			out = append(out, ev)
		}
	}
	return out
}

func parseDirective(line string) (events.SemanticEvent, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return events.SemanticEvent{}, false
	}

	kind, ok := validKinds[fields[0]]
	if !ok {
		return events.SemanticEvent{}, false
	}

	if kind == events.KindCCParameter {
		if len(fields) < 3 {
			return events.SemanticEvent{}, false
		}
		value, err := strconv.Atoi(fields[2])
		if err != nil {
			return events.SemanticEvent{}, false
		}
		ev := events.NewSemanticEvent(kind, events.SourceCC, clamp127(value), 1)
		ev.Param = fields[1]
		return ev, true
	}

	value, err := strconv.Atoi(fields[1])
	if err != nil {
		return events.SemanticEvent{}, false
	}
	return events.NewSemanticEvent(kind, events.SourceButton, clamp127(value), 1), true
}

func clamp127(v int) int {
	if v < 0 {
		return 0
	}
	if v > 127 {
		return 127
	}
	return v
}

func formatSnapshot(snapshot map[string]interface{}) string {
	var b strings.Builder
	for k, v := range snapshot {
		fmt.Fprintf(&b, "%s=%v\n", k, v)
	}
	return b.String()
}
