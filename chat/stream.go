package chat

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Response is the fully-consumed result of one streamed exchange.
type Response struct {
	// Text is the accumulated assistant output.
	Text string
	// NeedsConfirmation is set when the agent paused on a confirm tool
	// call; Confirmation carries what the driver must echo back.
	NeedsConfirmation bool
	Confirmation      Confirmation
	// FinishReason is the terminal frame's reason, if any.
	FinishReason string
}

// frame is one SSE data event from the task stream.
type frame struct {
	Type            string          `json:"type"`
	Delta           string          `json:"delta,omitempty"`
	MessageID       string          `json:"messageId,omitempty"`
	MessageMetadata *frameMetadata  `json:"messageMetadata,omitempty"`
	ToolName        string          `json:"toolName,omitempty"`
	ToolCallID      string          `json:"toolCallId,omitempty"`
	Input           json.RawMessage `json:"input,omitempty"`
	FinishReason    string          `json:"finishReason,omitempty"`
}

type frameMetadata struct {
	CreatedAt string `json:"createdAt"`
}

type confirmInput struct {
	Message string `json:"message"`
}

type completeInput struct {
	Summary   string `json:"summary"`
	Artifacts []struct {
		Path string `json:"path"`
	} `json:"artifacts"`
}

// readStream consumes an SSE body until EOF or the [DONE] terminator,
// folding the typed frames into a Response. Malformed lines and unknown
// frame types are skipped.
func readStream(body io.Reader, logger *zap.Logger) (*Response, error) {
	var (
		text      strings.Builder
		resp      Response
		messageID string
		createdAt string
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var f frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			logger.Debug("skipping malformed stream line", zap.Error(err))
			continue
		}

		switch f.Type {
		case "start":
			messageID = f.MessageID
			if f.MessageMetadata != nil {
				createdAt = f.MessageMetadata.CreatedAt
			}
		case "text-delta":
			text.WriteString(f.Delta)
		case "tool-input-available":
			switch f.ToolName {
			case "confirm":
				var in confirmInput
				if err := json.Unmarshal(f.Input, &in); err != nil {
					logger.Debug("skipping malformed confirm input", zap.Error(err))
					continue
				}
				resp.NeedsConfirmation = true
				resp.Confirmation = Confirmation{
					ToolCallID: f.ToolCallID,
					Message:    in.Message,
				}
				if in.Message != "" {
					text.WriteString(in.Message)
				}
			case "complete":
				var in completeInput
				if err := json.Unmarshal(f.Input, &in); err != nil {
					logger.Debug("skipping malformed complete input", zap.Error(err))
					continue
				}
				if in.Summary != "" {
					text.WriteString(in.Summary)
				}
				for _, a := range in.Artifacts {
					if a.Path != "" {
						text.WriteString(fmt.Sprintf("\n[Artifact: %s]", a.Path))
					}
				}
			}
		case "finish":
			resp.FinishReason = f.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	resp.Text = text.String()
	if resp.NeedsConfirmation {
		resp.Confirmation.MessageID = messageID
		resp.Confirmation.MessageCreatedAt = createdAt
		resp.Confirmation.Text = resp.Text
	}
	return &resp, nil
}
