package eval

import (
	"encoding/json"
	"strings"

	"github.com/BaSui01/agenteval/trace"
)

// inputMessage is one chat message recorded in a generation observation's
// input payload. Content is either a plain string or an array of typed
// parts; both forms occur in the wild.
type inputMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ToolName string          `json:"toolName,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// generationSpans returns the observations that are LLM generations.
func generationSpans(observations []trace.Observation, generationName string) []trace.Observation {
	spans := make([]trace.Observation, 0)
	for _, obs := range observations {
		if obs.IsGeneration(generationName) {
			spans = append(spans, obs)
		}
	}
	return spans
}

// lastStreamInput returns the recorded input messages of the last model
// call of the session. That call's prompt contains the whole conversation,
// so it is the authoritative transcript.
func lastStreamInput(observations []trace.Observation, generationName string) []inputMessage {
	wanted := generationName + ".doStream"
	for i := len(observations) - 1; i >= 0; i-- {
		obs := observations[i]
		if obs.Name != wanted || len(obs.Input) == 0 {
			continue
		}
		if msgs := parseInputMessages(obs.Input); len(msgs) > 0 {
			return msgs
		}
	}
	return nil
}

// parseInputMessages decodes a generation input payload. The payload may
// be double-encoded as a JSON string, a bare message array, or an object
// with a messages field.
func parseInputMessages(raw json.RawMessage) []inputMessage {
	data := []byte(raw)
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		data = []byte(asString)
	}

	var wrapper struct {
		Messages []inputMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Messages) > 0 {
		return wrapper.Messages
	}

	var messages []inputMessage
	if err := json.Unmarshal(data, &messages); err == nil {
		return messages
	}
	return nil
}

// parts decodes the message content as typed parts. A plain-string content
// becomes a single text part.
func (m inputMessage) parts() []contentPart {
	if len(m.Content) == 0 {
		return nil
	}
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return []contentPart{{Type: "text", Text: text}}
	}
	var parts []contentPart
	if err := json.Unmarshal(m.Content, &parts); err == nil {
		return parts
	}
	return nil
}

// text flattens the message content to plain text.
func (m inputMessage) text() string {
	var b strings.Builder
	for _, p := range m.parts() {
		if p.Text != "" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// toolCall is one tool invocation recorded in an assistant message.
type toolCall struct {
	ToolName string          `json:"toolName"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// toolCalls extracts tool invocations from assistant messages.
func toolCalls(messages []inputMessage) []toolCall {
	calls := make([]toolCall, 0)
	for _, m := range messages {
		if m.Role != "assistant" {
			continue
		}
		for _, p := range m.parts() {
			if p.Type != "tool-call" {
				continue
			}
			args := p.Args
			if len(args) == 0 {
				args = p.Input
			}
			calls = append(calls, toolCall{ToolName: p.ToolName, Args: args})
		}
	}
	return calls
}

// cleanControlChars strips ASCII control characters that upset JSON
// storage and prompt rendering, keeping tab, newline and carriage return.
func cleanControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}
