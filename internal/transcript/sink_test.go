package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleSinkFormat(t *testing.T) {
	var buf bytes.Buffer
	s := NewConsoleSink(&buf)

	require.NoError(t, s.Write(Entry{Participant: "alice", Text: "hello"}))
	require.NoError(t, s.Write(Entry{Participant: "bob", Text: "world"}))

	assert.Equal(t, "alice: hello\nbob: world\n", buf.String())
}

func TestJSONLSinkAppendsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcripts.jsonl")

	s, err := NewJSONLSink(path)
	require.NoError(t, err)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Write(Entry{Participant: "alice", TrackSID: "TR_1", Text: "hello", Confidence: 0.9, At: at}))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Entry
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "alice", got.Participant)
	assert.Equal(t, "hello", got.Text)
	assert.True(t, got.At.Equal(at))
}

type errSink struct{}

func (errSink) Write(Entry) error { return errors.New("sink down") }

func TestMultiSinkWritesAllAndAggregatesErrors(t *testing.T) {
	var buf bytes.Buffer
	m := MultiSink{errSink{}, NewConsoleSink(&buf)}

	err := m.Write(Entry{Participant: "alice", Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Equal(t, "alice: hi\n", buf.String())
}
