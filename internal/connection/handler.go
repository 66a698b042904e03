// Package connection implements the per-connection command interpreter: the
// authentication gate, the command dispatch table, the subscription set,
// rate limiting, and write-behind persistence.
package connection

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ussync/ussyncd/internal/document"
	"github.com/ussync/ussyncd/internal/logging"
	"github.com/ussync/ussyncd/internal/manager"
	"github.com/ussync/ussyncd/internal/metrics"
	"github.com/ussync/ussyncd/internal/protocol"
	"github.com/ussync/ussyncd/internal/ratelimit"
	"github.com/ussync/ussyncd/internal/storage"
	"github.com/ussync/ussyncd/internal/value"
)

// documentErrorCode maps a document-engine error to its spec §7 wire code
// via errors.As, falling back to the generic ERR code for anything else.
func documentErrorCode(err error) string {
	var derr *document.Error
	if errors.As(err, &derr) {
		switch derr.Kind {
		case document.KindInvalidDocumentID:
			return "INVALID_ID"
		case document.KindExists:
			return "CREATE_ERROR"
		case document.KindTooLarge:
			return "TOO_LARGE"
		}
	}
	return "ERR"
}

// marshalMeta encodes document metadata for the storage adapter's meta slot.
func marshalMeta(meta document.Meta) ([]byte, error) {
	return json.Marshal(meta)
}

var log = logging.Named("connection")

// Handler holds per-connection state: identity, the shared manager, this
// connection's parser and subscription set, its auth state, and its
// optional rate limiter and storage adapter.
type Handler struct {
	ClientID string

	mgr      *manager.Manager
	parser   *protocol.Parser
	password string // empty means no password configured
	storage  storage.Storage
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics // nil disables recording

	mu            sync.Mutex
	state         AuthState
	subscriptions map[string]bool
}

// SetMetrics attaches a metrics collector, enabling per-command recording.
// Left unset (nil), the handler records nothing.
func (h *Handler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// New constructs a Handler. If password is empty, the connection starts
// already authenticated (spec §4.3's state-machine diagram).
func New(clientID string, mgr *manager.Manager, password string, store storage.Storage, limiter *ratelimit.Limiter) *Handler {
	h := &Handler{
		ClientID:      clientID,
		mgr:           mgr,
		parser:        protocol.NewParser(),
		password:      password,
		storage:       store,
		limiter:       limiter,
		subscriptions: make(map[string]bool),
	}
	if password == "" {
		h.state = StateAuthed
	} else {
		h.state = StateUnauth
	}
	return h
}

// Process feeds bytes into the parser and runs every complete command found,
// returning the responses to write back in order, and whether the
// connection should now be closed.
func (h *Handler) Process(data []byte) ([]protocol.Response, bool, error) {
	if err := h.parser.Feed(data); err != nil {
		return nil, true, err
	}
	var responses []protocol.Response
	for {
		cmd, err := h.parser.Parse()
		if err == protocol.ErrIncompleteSentinel {
			break
		}
		if err != nil {
			// Non-oversized parse errors consume the offending line and the
			// session continues (spec §7, Recovery).
			responses = append(responses, protocol.Err("PARSE_ERROR", err.Error()))
			continue
		}
		resp, closed := h.handleCommand(cmd)
		responses = append(responses, resp)
		if closed {
			return responses, true, nil
		}
	}
	return responses, false, nil
}

func (h *Handler) handleCommand(cmd *protocol.Command) (protocol.Response, bool) {
	// AUTH, PING, QUIT are accepted in any state.
	switch cmd.Kind {
	case protocol.KindPing:
		return protocol.Pong(), false
	case protocol.KindAuth:
		return h.handleAuth(cmd), false
	case protocol.KindQuit:
		h.cleanup()
		return protocol.OK("Goodbye"), true
	}

	h.mu.Lock()
	authed := h.state == StateAuthed
	h.mu.Unlock()
	if !authed {
		return protocol.Err("NOAUTH", "Authentication required"), false
	}

	if h.limiter != nil && !h.limiter.TryAcquire() {
		if h.metrics != nil {
			h.metrics.RateLimitedRequests.Inc()
		}
		return protocol.Err("RATE_LIMITED", "rate limit exceeded"), false
	}

	start := time.Now()
	resp, closed := h.dispatch(cmd)
	if h.metrics != nil {
		h.metrics.RecordCommand(cmd.Kind.String(), time.Since(start).Seconds())
		if resp.IsError() {
			h.metrics.RecordError(cmd.Kind.String())
		}
	}
	return resp, closed
}

func (h *Handler) dispatch(cmd *protocol.Command) (protocol.Response, bool) {
	switch cmd.Kind {
	case protocol.KindCreate:
		return h.handleCreate(cmd), false
	case protocol.KindGet:
		return h.handleGet(cmd), false
	case protocol.KindSet:
		return h.handleSet(cmd), false
	case protocol.KindDelete:
		return h.handleDelete(cmd), false
	case protocol.KindPush:
		return h.handlePush(cmd), false
	case protocol.KindIncrement:
		return h.handleIncrement(cmd), false
	case protocol.KindSubscribe:
		return h.handleSubscribe(cmd), false
	case protocol.KindUnsubscribe:
		return h.handleUnsubscribe(cmd), false
	case protocol.KindPresence:
		return h.handlePresence(cmd), false
	case protocol.KindKeys:
		return h.handleKeys(cmd), false
	case protocol.KindInfo:
		return h.handleInfo(), false
	case protocol.KindCompact:
		return h.handleCompact(cmd), false
	default:
		return protocol.Err("PARSE_ERROR", "unsupported command"), false
	}
}

func (h *Handler) handleAuth(cmd *protocol.Command) protocol.Response {
	if h.password == "" {
		return protocol.OK()
	}
	if subtle.ConstantTimeCompare([]byte(cmd.Password), []byte(h.password)) == 1 {
		h.mu.Lock()
		h.state = StateAuthed
		h.mu.Unlock()
		return protocol.OK()
	}
	return protocol.Err("WRONGPASS", "invalid password")
}

func (h *Handler) handleCreate(cmd *protocol.Command) protocol.Response {
	strategy, err := document.ParseStrategy(cmd.Strategy)
	if err != nil {
		return protocol.Err("CREATE_ERROR", err.Error())
	}
	var ttl *int64
	if cmd.HasTTL {
		ttl = &cmd.TTLMs
	}
	if _, err := h.mgr.Create(cmd.DocumentID, strategy, ttl); err != nil {
		return protocol.Err(documentErrorCode(err), err.Error())
	}
	if h.metrics != nil {
		h.metrics.DocumentsCreated.Inc()
		h.metrics.DocumentsTotal.Set(float64(h.mgr.Stats().DocumentCount))
	}
	return protocol.OK()
}

func (h *Handler) handleGet(cmd *protocol.Command) protocol.Response {
	d, ok := h.mgr.Get(cmd.DocumentID)
	if !ok {
		return protocol.NullBulk()
	}
	path := ""
	if cmd.HasPath {
		path = cmd.Path
	}
	v, err := d.Get(path)
	if err != nil {
		return protocol.Err(documentErrorCode(err), err.Error())
	}
	resp, err := protocol.BulkValue(v)
	if err != nil {
		return protocol.Err("SERIALIZATION_ERROR", err.Error())
	}
	return resp
}

func (h *Handler) handleSet(cmd *protocol.Command) protocol.Response {
	d, err := h.mgr.GetOrCreate(cmd.DocumentID, document.StrategyLWW)
	if err != nil {
		return protocol.Err(documentErrorCode(err), err.Error())
	}
	if err := d.Set(cmd.Path, cmd.Value); err != nil {
		return protocol.Err(documentErrorCode(err), err.Error())
	}
	h.publishAndPersist(d, cmd.Path)
	return protocol.OK()
}

func (h *Handler) handleDelete(cmd *protocol.Command) protocol.Response {
	if cmd.HasPath {
		d, ok := h.mgr.Get(cmd.DocumentID)
		if !ok {
			return protocol.Err("NOT_FOUND", "document not found: "+cmd.DocumentID)
		}
		if err := d.Delete(cmd.Path); err != nil {
			return protocol.Err(documentErrorCode(err), err.Error())
		}
		h.publishAndPersist(d, cmd.Path)
		return protocol.OK()
	}
	if !h.mgr.Delete(cmd.DocumentID) {
		return protocol.Err("NOT_FOUND", "document not found: "+cmd.DocumentID)
	}
	if h.metrics != nil {
		h.metrics.DocumentsDeleted.Inc()
		h.metrics.DocumentsTotal.Set(float64(h.mgr.Stats().DocumentCount))
	}
	return protocol.OK()
}

func (h *Handler) handlePush(cmd *protocol.Command) protocol.Response {
	d, err := h.mgr.GetOrCreate(cmd.DocumentID, document.StrategyLWW)
	if err != nil {
		return protocol.Err(documentErrorCode(err), err.Error())
	}
	if err := d.Push(cmd.Path, cmd.Value); err != nil {
		return protocol.Err(documentErrorCode(err), err.Error())
	}
	h.publishAndPersist(d, cmd.Path)
	return protocol.OK()
}

func (h *Handler) handleIncrement(cmd *protocol.Command) protocol.Response {
	d, err := h.mgr.GetOrCreate(cmd.DocumentID, document.StrategyCrdtCounter)
	if err != nil {
		return protocol.Err(documentErrorCode(err), err.Error())
	}
	newVal, err := d.Increment(cmd.Path, cmd.Delta)
	if err != nil {
		return protocol.Err(documentErrorCode(err), err.Error())
	}
	h.publishAndPersist(d, cmd.Path)
	return protocol.Integer(newVal)
}

func (h *Handler) handleSubscribe(cmd *protocol.Command) protocol.Response {
	h.mu.Lock()
	_, already := h.subscriptions[cmd.Pattern]
	h.subscriptions[cmd.Pattern] = true
	h.mu.Unlock()
	if !already && h.metrics != nil {
		h.metrics.SubscriptionsActive.Inc()
	}
	return protocol.OK("Subscribed", cmd.Pattern)
}

func (h *Handler) handleUnsubscribe(cmd *protocol.Command) protocol.Response {
	h.mu.Lock()
	_, existed := h.subscriptions[cmd.Pattern]
	delete(h.subscriptions, cmd.Pattern)
	h.mu.Unlock()
	if existed && h.metrics != nil {
		h.metrics.SubscriptionsActive.Dec()
	}
	return protocol.OK("Unsubscribed", cmd.Pattern)
}

func (h *Handler) handlePresence(cmd *protocol.Command) protocol.Response {
	if cmd.HasPath { // HasPath doubles as "has data" for PRESENCE, see parser.
		h.mgr.SetPresence(h.ClientID, cmd.DocumentID, manager.Presence{ClientID: h.ClientID, Data: cmd.Value})
		return protocol.OK()
	}
	entries := h.mgr.GetPresence(cmd.DocumentID)
	items := make([]value.Value, 0, len(entries))
	for _, p := range entries {
		items = append(items, value.Object(map[string]value.Value{
			"client_id": value.String(p.ClientID),
			"data":      p.Data,
		}))
	}
	resp, err := protocol.BulkValue(value.Value{Kind: value.KindArray, Array: items})
	if err != nil {
		return protocol.Err("SERIALIZATION_ERROR", err.Error())
	}
	return resp
}

func (h *Handler) handleKeys(cmd *protocol.Command) protocol.Response {
	pattern := "*"
	if cmd.HasPattern {
		pattern = cmd.Pattern
	}
	metas := h.mgr.List(pattern)
	items := make([]protocol.Response, len(metas))
	for i, m := range metas {
		b, _ := protocol.BulkValue(value.String(m.ID))
		items[i] = b
	}
	return protocol.Array(items)
}

func (h *Handler) handleInfo() protocol.Response {
	stats := h.mgr.Stats()
	h.mu.Lock()
	subCount := len(h.subscriptions)
	h.mu.Unlock()
	info := value.Object(map[string]value.Value{
		"client_id":        value.String(h.ClientID),
		"document_count":   value.Int(int64(stats.DocumentCount)),
		"subscriber_count": value.Int(int64(stats.SubscriberCount)),
		"subscriptions":    value.Int(int64(subCount)),
	})
	resp, err := protocol.BulkValue(info)
	if err != nil {
		return protocol.Err("SERIALIZATION_ERROR", err.Error())
	}
	return resp
}

func (h *Handler) handleCompact(cmd *protocol.Command) protocol.Response {
	d, ok := h.mgr.Get(cmd.DocumentID)
	if !ok {
		return protocol.Err("NOT_FOUND", "document not found: "+cmd.DocumentID)
	}
	saved, err := d.Compact()
	if err != nil {
		return protocol.Err(documentErrorCode(err), err.Error())
	}
	if h.metrics != nil {
		h.metrics.CompactionsTotal.Inc()
		h.metrics.CompactionBytesSaved.Add(float64(saved))
	}
	return protocol.Integer(int64(saved))
}

// publishAndPersist publishes a delta for d's latest mutation and, if a
// storage adapter is attached, enqueues a detached write-behind task.
// Persistence failures are logged and never surfaced to the client (spec
// §4.3, §7).
func (h *Handler) publishAndPersist(d *document.Document, path string) {
	meta := d.Meta()
	state, err := d.EncodeState()
	if err != nil {
		log.Warnw("encode state for delta failed", "document", d.ID(), "error", err)
		return
	}
	h.mgr.PublishUpdate(manager.Delta{
		DocumentID: d.ID(),
		Version:    meta.Version,
		Path:       path,
		Payload:    state,
	})
	if h.metrics != nil {
		h.metrics.UpdatesPublished.Inc()
	}
	if h.storage == nil {
		return
	}
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		log.Warnw("marshal meta for persistence failed", "document", d.ID(), "error", err)
		return
	}
	go func() {
		if err := h.storage.Store(context.Background(), d.ID(), metaJSON, state); err != nil {
			log.Warnw("write-behind persistence failed", "document", d.ID(), "error", err)
		}
	}()
}

// MatchesSubscription reports whether any of this connection's subscription
// patterns matches docID.
func (h *Handler) MatchesSubscription(docID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for pattern := range h.subscriptions {
		if manager.MatchPattern(pattern, docID) {
			return true
		}
	}
	return false
}

// Cleanup removes this connection's presence entries. Called on QUIT and by
// the transport layer on EOF/error.
func (h *Handler) Cleanup() {
	h.cleanup()
}

func (h *Handler) cleanup() {
	h.mu.Lock()
	h.state = StateClosed
	remaining := len(h.subscriptions)
	h.subscriptions = make(map[string]bool)
	h.mu.Unlock()
	if remaining > 0 && h.metrics != nil {
		h.metrics.SubscriptionsActive.Sub(float64(remaining))
	}
	h.mgr.RemovePresence(h.ClientID)
}
