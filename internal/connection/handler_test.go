package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ussync/ussyncd/internal/document"
	"github.com/ussync/ussyncd/internal/manager"
	"github.com/ussync/ussyncd/internal/metrics"
	"github.com/ussync/ussyncd/internal/protocol"
	"github.com/ussync/ussyncd/internal/value"
)

func feedLine(t *testing.T, h *Handler, line string) []protocol.Response {
	t.Helper()
	resp, _, err := h.Process([]byte(line + "\n"))
	require.NoError(t, err)
	return resp
}

func TestPingAllowedBeforeAuth(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "secret", nil, nil)

	resp := feedLine(t, h, "PING")
	require.Len(t, resp, 1)
	assert.Equal(t, "+PONG\r\n", string(protocol.Encode(resp[0])))
}

func TestAuthGateRejectsCommandsUntilAuthenticated(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "secret", nil, nil)

	resp := feedLine(t, h, "CREATE doc:1 STRATEGY lww")
	require.Len(t, resp, 1)
	assert.Contains(t, string(protocol.Encode(resp[0])), "NOAUTH")

	resp = feedLine(t, h, "AUTH wrong")
	assert.Contains(t, string(protocol.Encode(resp[0])), "WRONGPASS")

	resp = feedLine(t, h, "AUTH secret")
	assert.Equal(t, "+OK\r\n", string(protocol.Encode(resp[0])))

	resp = feedLine(t, h, "CREATE doc:1 STRATEGY lww")
	assert.Equal(t, "+OK\r\n", string(protocol.Encode(resp[0])))
}

func TestNoPasswordStartsAuthenticated(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "", nil, nil)

	resp := feedLine(t, h, "CREATE doc:1 STRATEGY lww")
	require.Len(t, resp, 1)
	assert.Equal(t, "+OK\r\n", string(protocol.Encode(resp[0])))
}

func TestCreateGetSetRoundTrip(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "", nil, nil)

	resp := feedLine(t, h, `SET doc:1 name "Alice"`)
	require.Len(t, resp, 1)
	assert.Equal(t, "+OK\r\n", string(protocol.Encode(resp[0])))

	resp = feedLine(t, h, "GET doc:1 name")
	require.Len(t, resp, 1)
	assert.Equal(t, "$7\r\n\"Alice\"\r\n", string(protocol.Encode(resp[0])))
}

func TestGetMissingDocumentReturnsNullBulk(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "", nil, nil)

	resp := feedLine(t, h, "GET doc:missing")
	require.Len(t, resp, 1)
	assert.Equal(t, "$-1\r\n", string(protocol.Encode(resp[0])))
}

func TestIncrementDefaultsAndAccumulates(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "", nil, nil)

	resp := feedLine(t, h, "INC counters score")
	assert.Equal(t, ":1\r\n", string(protocol.Encode(resp[0])))
	resp = feedLine(t, h, "INC counters score 5")
	assert.Equal(t, ":6\r\n", string(protocol.Encode(resp[0])))
	resp = feedLine(t, h, "INC counters score -2")
	assert.Equal(t, ":4\r\n", string(protocol.Encode(resp[0])))
}

func TestDeleteMissingDocumentReturnsNotFound(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "", nil, nil)

	resp := feedLine(t, h, "DEL doc:missing")
	assert.Contains(t, string(protocol.Encode(resp[0])), "NOT_FOUND")
}

func TestQuitClosesConnectionAndClearsPresence(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "", nil, nil)

	feedLine(t, h, `PRESENCE doc:1 DATA {"cursor":3}`)
	assert.Len(t, mgr.GetPresence("doc:1"), 1)

	resp, closed, err := h.Process([]byte("QUIT\n"))
	require.NoError(t, err)
	require.True(t, closed)
	assert.Equal(t, "+OK Goodbye\r\n", string(protocol.Encode(resp[0])))
	assert.Len(t, mgr.GetPresence("doc:1"), 0)
}

func TestSubscribeAndUnsubscribeTrackPatterns(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "", nil, nil)

	feedLine(t, h, "SUB user:*")
	assert.True(t, h.MatchesSubscription("user:42"))
	assert.False(t, h.MatchesSubscription("room:1"))

	feedLine(t, h, "UNSUB user:*")
	assert.False(t, h.MatchesSubscription("user:42"))
}

func TestKeysListsMatchingDocuments(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "", nil, nil)

	feedLine(t, h, "CREATE user:1 STRATEGY lww")
	feedLine(t, h, "CREATE user:2 STRATEGY lww")
	feedLine(t, h, "CREATE room:1 STRATEGY lww")

	resp := feedLine(t, h, "KEYS user:*")
	require.Len(t, resp, 1)
	wire := string(protocol.Encode(resp[0]))
	assert.Contains(t, wire, "*2\r\n")
	assert.Contains(t, wire, "\"user:1\"")
	assert.Contains(t, wire, "\"user:2\"")
	assert.NotContains(t, wire, "\"room:1\"")
}

func TestCompactReturnsBytesSaved(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "", nil, nil)

	feedLine(t, h, `SET doc:1 name "Alice"`)
	resp := feedLine(t, h, "COMPACT doc:1")
	require.Len(t, resp, 1)
	assert.Equal(t, ":0\r\n", string(protocol.Encode(resp[0])))
}

func TestCreateInvalidDocumentIDReturnsInvalidID(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "", nil, nil)

	resp := feedLine(t, h, "CREATE bad!id STRATEGY lww")
	require.Len(t, resp, 1)
	wire := string(protocol.Encode(resp[0]))
	assert.Contains(t, wire, "INVALID_ID")
	assert.NotContains(t, wire, "CREATE_ERROR")
}

func TestCreateDuplicateReturnsCreateErrorNotInvalidID(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "", nil, nil)

	feedLine(t, h, "CREATE doc:1 STRATEGY lww")
	resp := feedLine(t, h, "CREATE doc:1 STRATEGY lww")
	require.Len(t, resp, 1)
	wire := string(protocol.Encode(resp[0]))
	assert.Contains(t, wire, "CREATE_ERROR")
	assert.NotContains(t, wire, "INVALID_ID")
}

func TestGetInvalidPathOnExistingDocumentReturnsErrNotNullBulk(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "", nil, nil)

	feedLine(t, h, `SET doc:1 name "Alice"`)
	resp := feedLine(t, h, "GET doc:1 missing.nested.path")
	require.Len(t, resp, 1)
	wire := string(protocol.Encode(resp[0]))
	assert.True(t, strings.HasPrefix(wire, "-ERR"), "expected an error frame for a missing path on an existing document, got %q", wire)
	assert.NotEqual(t, "$-1\r\n", wire)
}

func TestSetOversizedValueReturnsTooLarge(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "", nil, nil)

	huge := strings.Repeat("x", document.MaxDocumentSize+1)
	resp := h.handleSet(&protocol.Command{
		Kind:       protocol.KindSet,
		DocumentID: "doc:big",
		Path:       "blob",
		Value:      value.String(huge),
	})
	wire := string(protocol.Encode(resp))
	assert.Contains(t, wire, "TOO_LARGE")
}

func TestMetricsRecordCommandsDocumentsAndSubscriptions(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	m := metrics.New()
	h := New("client-1", mgr, "", nil, nil)
	h.SetMetrics(m)

	feedLine(t, h, "CREATE doc:1 STRATEGY lww")
	feedLine(t, h, "SUB user:*")
	feedLine(t, h, "DEL doc:missing") // exercises the error-recording path

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	body := rec.Body.String()

	assert.Contains(t, body, `ussyncd_commands_total{command="CREATE"} 1`)
	assert.Contains(t, body, `ussyncd_commands_errors_total{command="DEL"} 1`)
	assert.Contains(t, body, "ussyncd_documents_created_total 1")
	assert.Contains(t, body, "ussyncd_subscriptions_active 1")
}

func TestParseErrorsDoNotCloseConnection(t *testing.T) {
	mgr := manager.New()
	defer mgr.Close()
	h := New("client-1", mgr, "", nil, nil)

	resp, closed, err := h.Process([]byte("BOGUS\n"))
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Contains(t, string(protocol.Encode(resp[0])), "PARSE_ERROR")
}
