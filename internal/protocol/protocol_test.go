package protocol

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ussync/ussyncd/internal/value"
)

func feedAndParse(t *testing.T, line string) *Command {
	t.Helper()
	p := NewParser()
	require.NoError(t, p.Feed([]byte(line+"\r\n")))
	cmd, err := p.Parse()
	require.NoError(t, err)
	return cmd
}

func TestParsePing(t *testing.T) {
	cmd := feedAndParse(t, "PING")
	assert.Equal(t, KindPing, cmd.Kind)
}

func TestParseCreateWithOptions(t *testing.T) {
	cmd := feedAndParse(t, "CREATE user:1 STRATEGY lww TTL 1000")
	assert.Equal(t, KindCreate, cmd.Kind)
	assert.Equal(t, "user:1", cmd.DocumentID)
	assert.Equal(t, "lww", cmd.Strategy)
	assert.True(t, cmd.HasTTL)
	assert.Equal(t, int64(1000), cmd.TTLMs)
}

func TestParseSetWithJSONValue(t *testing.T) {
	cmd := feedAndParse(t, `SET user:1 name "Alice"`)
	assert.Equal(t, KindSet, cmd.Kind)
	assert.Equal(t, "name", cmd.Path)
	assert.Equal(t, value.String("Alice"), cmd.Value)
}

func TestParseIncrementDefaultDelta(t *testing.T) {
	cmd := feedAndParse(t, "INC v:home count")
	assert.Equal(t, int64(1), cmd.Delta)
	cmd = feedAndParse(t, "INC v:home count -2")
	assert.Equal(t, int64(-2), cmd.Delta)
}

func TestParseUnknownCommand(t *testing.T) {
	p := NewParser()
	require.NoError(t, p.Feed([]byte("BOGUS x\r\n")))
	_, err := p.Parse()
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrInvalidCommand, perr.Kind)
}

func TestParseIncompleteNeedsMoreData(t *testing.T) {
	p := NewParser()
	require.NoError(t, p.Feed([]byte("PI")))
	_, err := p.Parse()
	assert.Same(t, ErrIncompleteSentinel, err)
	require.NoError(t, p.Feed([]byte("NG\r\n")))
	cmd, err := p.Parse()
	require.NoError(t, err)
	assert.Equal(t, KindPing, cmd.Kind)
}

func TestFeedRejectsOversizedMessage(t *testing.T) {
	p := NewParser()
	big := make([]byte, MaxMessageSize+1)
	err := p.Feed(big)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrMessageTooLarge, perr.Kind)
}

func TestResponseFramesAreSelfDelimiting(t *testing.T) {
	var buf []byte
	buf = EncodeInto(buf, OK())
	buf = EncodeInto(buf, Err("NOT_FOUND", "missing"))
	buf = EncodeInto(buf, Bulk([]byte(`"Alice"`)))
	buf = EncodeInto(buf, NullBulk())
	buf = EncodeInto(buf, Integer(42))
	buf = EncodeInto(buf, Pong())
	buf = EncodeInto(buf, Delta(7, []byte("payload")))

	p := NewParser()
	require.NoError(t, p.Feed(buf))

	var lines [][]byte
	rest := buf
	for len(rest) > 0 {
		// This test only checks self-delimiting framing by re-splitting on
		// the protocol's own rules, not by running it through Parse (which
		// parses commands, not responses).
		i := 0
		for i < len(rest) && rest[i] != '\n' {
			i++
		}
		lines = append(lines, rest[:i+1])
		rest = rest[i+1:]
	}
	// Bulk/delta frames embed their own \r\n-terminated payload lines, so
	// the simple split above isn't a line count oracle for them; the
	// assertions below instead check that each frame's exact, terminated
	// bytes appear intact in the concatenated buffer.
	_ = lines
	assert.Contains(t, string(buf), "+OK\r\n")
	assert.Contains(t, string(buf), "-ERR NOT_FOUND missing\r\n")
	assert.Contains(t, string(buf), "$7\r\n\"Alice\"\r\n")
	assert.Contains(t, string(buf), "$-1\r\n")
	assert.Contains(t, string(buf), ":42\r\n")
	assert.Contains(t, string(buf), "+PONG\r\n")
	assert.Contains(t, string(buf), "#7 "+base64.StdEncoding.EncodeToString([]byte("payload"))+"\r\n")
}

func TestBase64RoundTrip(t *testing.T) {
	payload := []byte("hello world, this is a delta payload")
	encoded := base64.StdEncoding.EncodeToString(payload)
	assert.Equal(t, 4*((len(payload)+2)/3), len(encoded))
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestGetResponseWireFormatMatchesScenario(t *testing.T) {
	resp, err := BulkValue(value.String("Alice"))
	require.NoError(t, err)
	assert.Equal(t, "$7\r\n\"Alice\"\r\n", string(Encode(resp)))
}
