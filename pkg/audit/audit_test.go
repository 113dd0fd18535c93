package audit_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/loom/pkg/audit"
)

func TestWriterRecorder_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	rec := audit.NewWriterRecorder(&buf)

	rec.Append("com.example.Target", []string{"process", "mixin", "before", "compute-frames"})

	output := buf.String()
	assert.True(t, strings.HasPrefix(output, "AUDIT: "))

	jsonPart := strings.TrimSpace(strings.TrimPrefix(output, "AUDIT: "))

	var evt struct {
		ID        string    `json:"id"`
		ClassName string    `json:"class_name"`
		Fields    []string  `json:"fields"`
		Timestamp time.Time `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal([]byte(jsonPart), &evt))

	assert.Equal(t, "com.example.Target", evt.ClassName)
	assert.Equal(t, []string{"process", "mixin", "before", "compute-frames"}, evt.Fields)
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestTee(t *testing.T) {
	var a, b bytes.Buffer
	rec := audit.Tee(audit.NewWriterRecorder(&a), nil, audit.NewWriterRecorder(&b))

	rec.Append("com.example.Target", nil)

	assert.Contains(t, a.String(), "com.example.Target")
	assert.Contains(t, b.String(), "com.example.Target")
}

func TestTrail_AppendAndChain(t *testing.T) {
	trail := audit.NewTrail()

	trail.Append("com.example.A", []string{"process", "mixin", "before", "simple"})
	trail.Append("com.example.B", []string{"process", "at", "after", "compute-maxs"})
	trail.Append("com.example.A", []string{"directive", "rewrite", "compute-frames"})

	require.Equal(t, 3, trail.Size())

	entries := trail.Query(audit.Filter{})
	require.Len(t, entries, 3)

	assert.Equal(t, "genesis", entries[0].PreviousHash)
	assert.Equal(t, entries[0].EntryHash, entries[1].PreviousHash)
	assert.Equal(t, entries[1].EntryHash, entries[2].PreviousHash)
	assert.Equal(t, entries[2].EntryHash, trail.Head())

	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Sequence)
		assert.True(t, strings.HasPrefix(e.EntryHash, "sha256:"))
	}

	require.NoError(t, trail.VerifyChain())
}

func TestTrail_VerifyChainDetectsTampering(t *testing.T) {
	trail := audit.NewTrail()
	trail.Append("com.example.A", []string{"process", "mixin", "before", "simple"})
	trail.Append("com.example.B", []string{"directive", "skip"})

	entries := trail.Query(audit.Filter{})
	require.Len(t, entries, 2)

	// Entries are shared pointers; mutating one simulates tampering.
	entries[0].Fields = []string{"process", "mixin", "before", "none"}

	err := trail.VerifyChain()
	require.ErrorIs(t, err, audit.ErrChainBroken)
}

func TestTrail_Query(t *testing.T) {
	trail := audit.NewTrail()
	trail.Append("com.example.A", []string{"process", "mixin", "before", "simple"})
	trail.Append("com.example.B", []string{"process", "mixin", "after", "simple"})
	trail.Append("com.example.A", []string{"process", "at", "before", "none"})

	t.Run("by class", func(t *testing.T) {
		got := trail.Query(audit.Filter{ClassName: "com.example.A"})
		require.Len(t, got, 2)
	})

	t.Run("by field", func(t *testing.T) {
		got := trail.Query(audit.Filter{Contains: "mixin"})
		require.Len(t, got, 2)
	})

	t.Run("by sequence window", func(t *testing.T) {
		got := trail.Query(audit.Filter{StartSeq: 2, EndSeq: 3})
		require.Len(t, got, 2)
		assert.Equal(t, uint64(2), got[0].Sequence)
	})

	t.Run("max results", func(t *testing.T) {
		got := trail.Query(audit.Filter{MaxResults: 1})
		require.Len(t, got, 1)
	})

	t.Run("normalizes the queried class name", func(t *testing.T) {
		trail.Append("com.example.Café", nil)
		got := trail.Query(audit.Filter{ClassName: "com.example.Café"})
		require.Len(t, got, 1)
	})
}

func TestTrail_Handlers(t *testing.T) {
	trail := audit.NewTrail()

	var seen []string
	trail.AddHandler(func(e *audit.Entry) {
		seen = append(seen, e.ClassName)
	})

	trail.Append("com.example.A", nil)
	trail.Append("com.example.B", nil)

	assert.Equal(t, []string{"com.example.A", "com.example.B"}, seen)
}

func TestTrail_Get(t *testing.T) {
	trail := audit.NewTrail()
	trail.Append("com.example.A", nil)

	entries := trail.Query(audit.Filter{})
	require.Len(t, entries, 1)

	got, err := trail.Get(entries[0].EntryID)
	require.NoError(t, err)
	assert.Equal(t, entries[0].EntryHash, got.EntryHash)

	_, err = trail.Get("missing")
	require.ErrorIs(t, err, audit.ErrEntryNotFound)
}

func TestRehydrate(t *testing.T) {
	trail := audit.NewTrail()
	trail.Append("com.example.A", []string{"process", "mixin", "before", "simple"})
	trail.Append("com.example.B", []string{"directive", "skip"})
	entries := trail.Query(audit.Filter{})

	restored, err := audit.Rehydrate(entries)
	require.NoError(t, err)

	assert.Equal(t, trail.Size(), restored.Size())
	assert.Equal(t, trail.Head(), restored.Head())
	require.NoError(t, restored.VerifyChain())

	// The restored trail keeps chaining from where the store left off.
	restored.Append("com.example.C", nil)
	assert.Equal(t, 3, restored.Size())
	require.NoError(t, restored.VerifyChain())

	got := restored.Query(audit.Filter{})
	assert.Equal(t, entries[1].EntryHash, got[2].PreviousHash)
}

func TestRehydrate_RejectsTamperedEntries(t *testing.T) {
	trail := audit.NewTrail()
	trail.Append("com.example.A", nil)
	entries := trail.Query(audit.Filter{})
	entries[0].ClassName = "com.example.Replaced"

	_, err := audit.Rehydrate(entries)
	require.ErrorIs(t, err, audit.ErrChainBroken)
}
