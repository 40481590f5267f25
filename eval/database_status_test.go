package eval

import (
	"context"
	"testing"

	"github.com/BaSui01/agenteval/database"
	"github.com/BaSui01/agenteval/trace"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func messageStore(t *testing.T, rows [][3]string) *database.Client {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	err = db.Exec(`CREATE TABLE mira_messages (
		chat_id TEXT, role TEXT, parts TEXT, metadata TEXT, sequence_num INTEGER
	)`).Error
	require.NoError(t, err)

	for i, row := range rows {
		err = db.Exec(
			"INSERT INTO mira_messages (chat_id, role, parts, metadata, sequence_num) VALUES (?, ?, ?, ?, ?)",
			"sess", row[0], row[1], row[2], i+1).Error
		require.NoError(t, err)
	}
	return database.NewClient(db, "mira_messages", nil)
}

func TestDatabaseStatusEvaluator(t *testing.T) {
	donePart := `[{"type":"text","state":"done"}]`

	t.Run("well formed session scores one", func(t *testing.T) {
		deps := depsWith(t, []trace.Trace{{ID: "t1"}})
		deps.DB = messageStore(t, [][3]string{
			{"user", "[]", ""},
			{"assistant", donePart, ""},
			{"user", "[]", ""},
			{"assistant", `[{"type":"tool-complete","output":{"success":true}}]`, ""},
		})
		e := &databaseStatusEvaluator{deps: deps}
		r := e.Evaluate(context.Background(), successRecord())
		assert.Equal(t, 1.0, r.Value, r.Comment)
	})

	t.Run("no database configured", func(t *testing.T) {
		e := &databaseStatusEvaluator{deps: depsWith(t, []trace.Trace{{ID: "t1"}})}
		r := e.Evaluate(context.Background(), successRecord())
		assert.Zero(t, r.Value)
		assert.Equal(t, "database not configured", r.Comment)
	})

	t.Run("empty session", func(t *testing.T) {
		deps := depsWith(t, []trace.Trace{{ID: "t1"}})
		deps.DB = messageStore(t, nil)
		e := &databaseStatusEvaluator{deps: deps}
		r := e.Evaluate(context.Background(), successRecord())
		assert.Zero(t, r.Value)
		assert.Equal(t, "no messages stored for session", r.Comment)
	})

	t.Run("unanswered user message", func(t *testing.T) {
		deps := depsWith(t, []trace.Trace{{ID: "t1"}})
		deps.DB = messageStore(t, [][3]string{
			{"user", "[]", ""},
			{"assistant", donePart, ""},
			{"user", "[]", ""},
		})
		e := &databaseStatusEvaluator{deps: deps}
		r := e.Evaluate(context.Background(), successRecord())
		assert.Zero(t, r.Value)
		assert.Contains(t, r.Comment, "not paired")
	})

	t.Run("broken assistant terminal part", func(t *testing.T) {
		deps := depsWith(t, []trace.Trace{{ID: "t1"}})
		deps.DB = messageStore(t, [][3]string{
			{"user", "[]", ""},
			{"assistant", `[{"type":"text","state":"streaming"}]`, ""},
		})
		e := &databaseStatusEvaluator{deps: deps}
		r := e.Evaluate(context.Background(), successRecord())
		assert.Zero(t, r.Value)
		assert.Contains(t, r.Comment, "not done")
	})

	t.Run("aborted message always passes", func(t *testing.T) {
		deps := depsWith(t, []trace.Trace{{ID: "t1"}})
		deps.DB = messageStore(t, [][3]string{
			{"user", "[]", ""},
			{"assistant", `[{"type":"text","state":"streaming"}]`, `{"aborted":true}`},
		})
		e := &databaseStatusEvaluator{deps: deps}
		r := e.Evaluate(context.Background(), successRecord())
		assert.Equal(t, 1.0, r.Value, r.Comment)
	})
}

func TestCheckPairing(t *testing.T) {
	rows := func(roles ...string) []database.MessageRow {
		out := make([]database.MessageRow, len(roles))
		for i, role := range roles {
			out[i] = database.MessageRow{Role: role, SequenceNum: i + 1}
		}
		return out
	}

	t.Run("alternating pairs", func(t *testing.T) {
		_, ok := checkPairing(rows("user", "assistant", "user", "assistant"), false)
		assert.True(t, ok)
	})

	t.Run("leading assistant rejected by default", func(t *testing.T) {
		comment, ok := checkPairing(rows("assistant", "user", "assistant"), false)
		assert.False(t, ok)
		assert.Contains(t, comment, "unpaired assistant")
	})

	t.Run("leading assistant tolerated when allowed", func(t *testing.T) {
		_, ok := checkPairing(rows("assistant", "user", "assistant"), true)
		assert.True(t, ok)
	})

	t.Run("mid conversation stray assistant", func(t *testing.T) {
		_, ok := checkPairing(rows("user", "assistant", "assistant"), true)
		assert.False(t, ok)
	})

	t.Run("consecutive user messages break the pairing", func(t *testing.T) {
		comment, ok := checkPairing(rows("user", "user", "assistant", "assistant"), false)
		assert.False(t, ok)
		assert.Contains(t, comment, "not paired")
	})

	t.Run("trailing user message breaks the pairing", func(t *testing.T) {
		comment, ok := checkPairing(rows("user", "assistant", "user"), false)
		assert.False(t, ok)
		assert.Contains(t, comment, "not paired")
	})
}

func TestCheckAssistantRow(t *testing.T) {
	cases := []struct {
		name  string
		parts string
		meta  string
		ok    bool
	}{
		{"text done", `[{"type":"text","state":"done"}]`, "", true},
		{"text streaming", `[{"type":"text","state":"streaming"}]`, "", false},
		{"tool complete success", `[{"type":"tool-complete","output":{"success":true}}]`, "", true},
		{"tool complete failure", `[{"type":"tool-complete","output":{"success":false}}]`, "", false},
		{"clarify question", `[{"type":"tool-clarifyQuestion"}]`, "", true},
		{"confirm", `[{"type":"tool-confirm"}]`, "", true},
		{"unknown type", `[{"type":"reasoning"}]`, "", false},
		{"empty parts", `[]`, "", false},
		{"unparseable parts", `{`, "", false},
		{"aborted overrides", `{`, `{"aborted":true}`, true},
		{"only last part counts", `[{"type":"reasoning"},{"type":"text","state":"done"}]`, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := checkAssistantRow(database.AssistantRow{Parts: tc.parts, Metadata: tc.meta, SequenceNum: 1})
			assert.Equal(t, tc.ok, ok)
		})
	}
}
