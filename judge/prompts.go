package judge

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompts holds the judge prompt templates. Placeholders use the
// {{name}} form and are substituted literally.
type Prompts struct {
	Continuation      string `yaml:"conversation_continuation"`
	Summary           string `yaml:"summary_generator"`
	Comprehensive     string `yaml:"comprehensive"`
	ComprehensiveOpen string `yaml:"comprehensive_no_expected_output"`
	ToolCall          string `yaml:"tool_call"`
}

// DefaultPrompts returns the built-in prompt set.
func DefaultPrompts() Prompts {
	return Prompts{
		Continuation: `You are reviewing a multi-turn conversation between a user and an AI agent.

Original task:
{{question}}

Conversation so far (may be summarized):
{{historySummary}}

Latest agent response:
{{lastResponse}}

Decide whether the task is complete and whether the user should send another message.
Respond with a JSON object only:
{"taskCompleted": true|false, "shouldContinue": true|false, "nextMessage": "<next user message if continuing>", "reason": "<short reason>"}`,

		Summary: `Summarize the following message in at most 3 sentences, keeping all facts needed to continue the conversation:

{{content}}`,

		Comprehensive: `You are grading an AI agent's answer against a reference answer.

Question:
{{question}}

Reference answer:
{{expectedOutput}}

Agent answer:
{{actualOutput}}

Agent execution details:
{{actualMetadata}}

Score the answer from 0 to 100 where 100 means fully correct and complete.
Respond with a JSON object only: {"score": <integer 0-100>, "reason": "<short justification>"}`,

		ComprehensiveOpen: `You are grading an AI agent's answer. There is no reference answer; judge correctness, completeness and usefulness on the merits.

Question:
{{question}}

Agent answer:
{{actualOutput}}

Agent execution details:
{{actualMetadata}}

Score the answer from 0 to 100 where 100 means the task was fully and correctly accomplished.
Respond with a JSON object only: {"score": <integer 0-100>, "reason": "<short justification>"}`,

		ToolCall: `You are validating a single tool call made by an AI agent.

{{toolDefinition}}

Tool call made by the agent:
{{toolCall}}

Check that the call uses the tool correctly: right tool for the purpose, required
arguments present, argument values well-formed.
Score from 0 to 100. Respond with a JSON object only: {"score": <integer 0-100>, "reason": "<short justification>"}`,
	}
}

// LoadPrompts reads prompt overrides from a YAML file, falling back to the
// defaults for any template the file omits. An empty path returns the
// defaults unchanged.
func LoadPrompts(path string) (Prompts, error) {
	prompts := DefaultPrompts()
	if path == "" {
		return prompts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return prompts, fmt.Errorf("read prompts file: %w", err)
	}
	var overrides Prompts
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return prompts, fmt.Errorf("parse prompts file: %w", err)
	}
	if overrides.Continuation != "" {
		prompts.Continuation = overrides.Continuation
	}
	if overrides.Summary != "" {
		prompts.Summary = overrides.Summary
	}
	if overrides.Comprehensive != "" {
		prompts.Comprehensive = overrides.Comprehensive
	}
	if overrides.ComprehensiveOpen != "" {
		prompts.ComprehensiveOpen = overrides.ComprehensiveOpen
	}
	if overrides.ToolCall != "" {
		prompts.ToolCall = overrides.ToolCall
	}
	return prompts, nil
}

// render substitutes {{name}} placeholders.
func render(template string, vars map[string]string) string {
	out := template
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
	}
	return out
}
