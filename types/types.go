// Package types holds the shared data model for the evaluation harness.
// It is the bottom-most package and must not import any other package in
// this module.
package types

// DatasetItem is a single evaluation case: the question to drive the
// conversation with, the expected answer (may be empty), optional metadata
// used by judge prompts, and files to upload on the first turn.
type DatasetItem struct {
	ID             string         `json:"id,omitempty"`
	Input          string         `json:"input"`
	ExpectedOutput string         `json:"expectedOutput,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Files          []string       `json:"files,omitempty"`
}

// HasExpectedOutput reports whether the item carries a usable reference
// answer. The literal string "null" is treated as absent.
func (d DatasetItem) HasExpectedOutput() bool {
	return d.ExpectedOutput != "" && d.ExpectedOutput != "null"
}

// TaskOutput is the result of driving one conversation.
type TaskOutput struct {
	SessionID string `json:"sessionId"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
}

// ConversationMessage is one entry in the driver's transcript.
type ConversationMessage struct {
	Role                  string `json:"role"`
	Content               string `json:"content"`
	Turn                  int    `json:"turn"`
	ToolCallID            string `json:"toolCallId,omitempty"`
	IsToolExecutionResult bool   `json:"isToolExecutionResult,omitempty"`
}

// Record is what evaluators receive for one finished conversation.
type Record struct {
	Item    DatasetItem
	Output  TaskOutput
	History []ConversationMessage
}
