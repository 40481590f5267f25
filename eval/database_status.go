package eval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/agenteval/database"
	"github.com/BaSui01/agenteval/types"
)

// databaseStatusEvaluator cross-checks the observed application's message
// store: every user message must be answered, and every assistant message
// must terminate in a recognized shape.
type databaseStatusEvaluator struct {
	deps Deps
}

func (e *databaseStatusEvaluator) Name() string { return "database_status" }

func (e *databaseStatusEvaluator) Evaluate(ctx context.Context, rec *types.Record) Result {
	_, _, gate := e.deps.preamble(e.Name(), rec)
	if gate != nil {
		return *gate
	}
	if e.deps.DB == nil {
		return Result{Name: e.Name(), Value: 0, Comment: "database not configured"}
	}

	rows, err := e.deps.DB.SessionMessages(ctx, rec.Output.SessionID)
	if err != nil {
		return Result{Name: e.Name(), Value: 0, Comment: "query failed: " + err.Error()}
	}
	if len(rows) == 0 {
		return Result{Name: e.Name(), Value: 0, Comment: "no messages stored for session"}
	}
	if comment, ok := checkPairing(rows, e.deps.AllowLeadingAssistant); !ok {
		return Result{Name: e.Name(), Value: 0, Comment: comment}
	}

	assistants, err := e.deps.DB.AssistantMessages(ctx, rec.Output.SessionID)
	if err != nil {
		return Result{Name: e.Name(), Value: 0, Comment: "query failed: " + err.Error()}
	}
	for _, row := range assistants {
		if comment, ok := checkAssistantRow(row); !ok {
			return Result{Name: e.Name(), Value: 0, Comment: comment}
		}
	}
	return Result{Name: e.Name(), Value: 1}
}

// checkPairing verifies the user/assistant alternation: at most one user
// message may await an answer at any point in the sequence, and none may
// be left awaiting one at the end. With allowLeading set, a single
// assistant greeting before the first user message is tolerated.
func checkPairing(rows []database.MessageRow, allowLeading bool) (string, bool) {
	pending := false
	seenUser := false

	for i, row := range rows {
		switch row.Role {
		case "user":
			if pending {
				return fmt.Sprintf("user message at sequence %d not paired with an answer", row.SequenceNum), false
			}
			pending = true
			seenUser = true
		case "assistant":
			if pending {
				pending = false
				continue
			}
			if i == 0 && allowLeading && !seenUser {
				continue
			}
			return fmt.Sprintf("unpaired assistant message at sequence %d", row.SequenceNum), false
		}
	}
	if pending {
		return "last user message not paired with an answer", false
	}
	return "", true
}

type storedPart struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	State string `json:"state,omitempty"`
	Output *struct {
		Success bool `json:"success"`
	} `json:"output,omitempty"`
}

type storedMetadata struct {
	Aborted bool `json:"aborted"`
}

// checkAssistantRow verifies an assistant message ended in a recognized
// terminal shape. Aborted messages are always accepted.
func checkAssistantRow(row database.AssistantRow) (string, bool) {
	if row.Metadata != "" {
		var meta storedMetadata
		if err := json.Unmarshal([]byte(row.Metadata), &meta); err == nil && meta.Aborted {
			return "", true
		}
	}

	var parts []storedPart
	if err := json.Unmarshal([]byte(row.Parts), &parts); err != nil {
		return fmt.Sprintf("unparseable parts at sequence %d", row.SequenceNum), false
	}
	if len(parts) == 0 {
		return fmt.Sprintf("empty parts at sequence %d", row.SequenceNum), false
	}

	last := parts[len(parts)-1]
	switch last.Type {
	case "tool-complete":
		if last.Output != nil && last.Output.Success {
			return "", true
		}
		return fmt.Sprintf("tool-complete without success at sequence %d", row.SequenceNum), false
	case "text":
		if last.State == "done" {
			return "", true
		}
		return fmt.Sprintf("text part not done at sequence %d", row.SequenceNum), false
	case "tool-clarifyQuestion", "tool-confirm":
		return "", true
	}
	return fmt.Sprintf("unrecognized terminal part %q at sequence %d", last.Type, row.SequenceNum), false
}
