// Package document implements the typed, versioned state cell: strategy
// dispatch between the plain value tree and the crdt-text engine,
// versioning, TTL expiry, and operation-history compaction.
package document

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gpestana/rdoc"

	"github.com/ussync/ussyncd/internal/value"
)

const (
	// CompactionThreshold is the update-count trigger for auto-compaction.
	CompactionThreshold = 1000
	// CompactionSizeThreshold is the encoded-state-size trigger (bytes),
	// combined with a lower update-count floor (see ShouldCompact).
	CompactionSizeThreshold = 1 << 20 // 1 MiB
	compactionCountFloor    = 100

	// MaxDocumentSize bounds the encoded state of any document (supplement
	// #1 in SPEC_FULL.md, from the original source's MAX_DOCUMENT_SIZE).
	MaxDocumentSize = 16 << 20 // 16 MiB
)

func nowMillis() int64 { return time.Now().UnixMilli() }

// Meta is the externally visible, JSON-serialized document metadata.
type Meta struct {
	ID        string   `json:"id"`
	Strategy  Strategy `json:"-"`
	StrategyS string   `json:"strategy"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
	Version   uint64   `json:"version"`
	TTLMs     *int64   `json:"ttl_ms,omitempty"`
}

func newMeta(id string, strategy Strategy, ttlMs *int64) Meta {
	now := nowMillis()
	return Meta{
		ID:        id,
		Strategy:  strategy,
		StrategyS: strategy.String(),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
		TTLMs:     ttlMs,
	}
}

// Document is the runtime state cell described in spec §3/§4.1.
type Document struct {
	id       string
	strategy Strategy

	metaMu sync.RWMutex
	meta   Meta

	dataMu sync.RWMutex
	lwwData value.Value

	ydocMu sync.RWMutex
	ydoc    *rdoc.Doc

	updateCount     int
	compactionCount int
}

const textEnginePath = "/text"

// New constructs an empty document of the given strategy. Strategy is
// frozen for the document's life.
func New(id string, strategy Strategy, ttlMs *int64) (*Document, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	d := &Document{
		id:       id,
		strategy: strategy,
		meta:     newMeta(id, strategy, ttlMs),
		lwwData:  value.Object(nil),
	}
	if strategy.usesCrdtEngine() {
		doc := rdoc.Init(id)
		patch := []byte(`[{"op":"add","path":"/","value":{}},{"op":"add","path":"` + textEnginePath + `","value":""}]`)
		if err := doc.Apply(patch); err != nil {
			return nil, errCrdt("init text engine: " + err.Error())
		}
		d.ydoc = doc
	}
	return d, nil
}

// ID returns the document's identifier.
func (d *Document) ID() string { return d.id }

// Strategy returns the document's frozen strategy.
func (d *Document) Strategy() Strategy { return d.strategy }

// Meta returns a snapshot of the document's metadata.
func (d *Document) Meta() Meta {
	d.metaMu.RLock()
	defer d.metaMu.RUnlock()
	return d.meta
}

func (d *Document) bumpVersion() {
	d.metaMu.Lock()
	d.meta.Version++
	d.meta.UpdatedAt = nowMillis()
	d.metaMu.Unlock()
}

// SetTTL re-anchors the document's expiry to the current clock, or clears it
// when ms is nil.
func (d *Document) SetTTL(ms *int64) {
	d.metaMu.Lock()
	defer d.metaMu.Unlock()
	if ms == nil {
		d.meta.TTLMs = nil
		return
	}
	anchored := nowMillis()
	d.meta.CreatedAt = anchored
	v := *ms
	d.meta.TTLMs = &v
}

// TTLRemaining returns the milliseconds until expiry, or nil if no TTL is
// set. Can be negative if already expired.
func (d *Document) TTLRemaining() *int64 {
	d.metaMu.RLock()
	defer d.metaMu.RUnlock()
	if d.meta.TTLMs == nil {
		return nil
	}
	remaining := d.meta.CreatedAt + *d.meta.TTLMs - nowMillis()
	return &remaining
}

// IsExpired reports whether the document's absolute TTL deadline has passed.
func (d *Document) IsExpired() bool {
	r := d.TTLRemaining()
	return r != nil && *r <= 0
}

// Get returns the value at path (or the whole document if path is empty).
// For crdt-text, path is ignored and the current text is returned as a
// string.
func (d *Document) Get(path string) (value.Value, error) {
	if d.strategy == StrategyCrdtText {
		return value.String(d.textContent()), nil
	}
	d.dataMu.RLock()
	defer d.dataMu.RUnlock()
	if path == "" {
		return d.lwwData, nil
	}
	v, ok, err := value.GetPath(d.lwwData, path)
	if err != nil {
		return value.Value{}, errInvalidPath(err.Error())
	}
	if !ok {
		return value.Value{}, errInvalidPath("path not found: " + path)
	}
	return v, nil
}

func (d *Document) textContent() string {
	d.ydocMu.RLock()
	defer d.ydocMu.RUnlock()
	b, err := d.ydoc.MarshalJSON()
	if err != nil {
		return ""
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(b, &obj); err != nil {
		return ""
	}
	if s, ok := obj["text"].(string); ok {
		return s
	}
	return ""
}

// Set writes v at path. For crdt-text, v must be a string and replaces the
// entire content. Every successful call bumps version/updated_at and runs
// the auto-compaction check.
func (d *Document) Set(path string, v value.Value) error {
	if d.strategy == StrategyCrdtText {
		if v.Kind != value.KindString {
			return errInvalidPath("crdt-text set requires a string value")
		}
		if err := d.replaceText(v.Str); err != nil {
			return err
		}
	} else {
		d.dataMu.Lock()
		next, err := value.SetPath(d.lwwData, path, v)
		if err != nil {
			d.dataMu.Unlock()
			return errInvalidPath(err.Error())
		}
		if err := d.checkSize(next); err != nil {
			d.dataMu.Unlock()
			return err
		}
		d.lwwData = next
		d.updateCount++
		d.dataMu.Unlock()
	}
	d.bumpVersion()
	d.maybeCompact()
	return nil
}

func (d *Document) replaceText(s string) error {
	d.ydocMu.Lock()
	defer d.ydocMu.Unlock()
	b, _ := json.Marshal(s)
	patch := []byte(`[{"op":"replace","path":"` + textEnginePath + `","value":` + string(b) + `}]`)
	if err := d.ydoc.Apply(patch); err != nil {
		return errCrdt("replace text: " + err.Error())
	}
	d.updateCount++
	return nil
}

// Delete writes null at path, or (with no path) replaces the root with an
// empty mapping.
func (d *Document) Delete(path string) error {
	if d.strategy == StrategyCrdtText {
		if err := d.replaceText(""); err != nil {
			return err
		}
		d.bumpVersion()
		return nil
	}
	d.dataMu.Lock()
	if path == "" {
		d.lwwData = value.Object(nil)
	} else {
		next, err := value.DeletePath(d.lwwData, path)
		if err != nil {
			d.dataMu.Unlock()
			return errInvalidPath(err.Error())
		}
		d.lwwData = next
	}
	d.updateCount++
	d.dataMu.Unlock()
	d.bumpVersion()
	d.maybeCompact()
	return nil
}

// Push appends v to the array at path, creating it if absent. Fails
// InvalidPath if the existing node is not an array.
func (d *Document) Push(path string, v value.Value) error {
	if d.strategy == StrategyCrdtText {
		return errStrategyMismatch(StrategyCrdtText, d.strategy)
	}
	d.dataMu.Lock()
	next, err := value.PushPath(d.lwwData, path, v)
	if err != nil {
		d.dataMu.Unlock()
		return errInvalidPath(err.Error())
	}
	if err := d.checkSize(next); err != nil {
		d.dataMu.Unlock()
		return err
	}
	d.lwwData = next
	d.updateCount++
	d.dataMu.Unlock()
	d.bumpVersion()
	d.maybeCompact()
	return nil
}

// Increment atomically reads the integer at path (absent or non-integer
// treated as 0), adds delta, writes back, and returns the new value.
// Overflow wraps per two's complement signed arithmetic (unspecified
// saturation behavior, per spec §4.1).
func (d *Document) Increment(path string, delta int64) (int64, error) {
	d.dataMu.Lock()
	cur, ok, err := value.GetPath(d.lwwData, path)
	if err != nil {
		d.dataMu.Unlock()
		return 0, errInvalidPath(err.Error())
	}
	var base int64
	if ok {
		base = cur.AsInt64()
	}
	next := base + delta
	newRoot, err := value.SetPath(d.lwwData, path, value.Int(next))
	if err != nil {
		d.dataMu.Unlock()
		return 0, errInvalidPath(err.Error())
	}
	d.lwwData = newRoot
	d.updateCount++
	d.dataMu.Unlock()
	d.bumpVersion()
	d.maybeCompact()
	return next, nil
}

func (d *Document) checkSize(v value.Value) error {
	b, err := v.MarshalJSON()
	if err != nil {
		return nil // binary values aren't size-checked here; see EncodeState
	}
	if len(b) > MaxDocumentSize {
		return errTooLarge(len(b), MaxDocumentSize)
	}
	return nil
}

// EncodeState returns the opaque CRDT state bytes used for subscription
// payloads and crdt-text peer merging.
func (d *Document) EncodeState() ([]byte, error) {
	if d.strategy == StrategyCrdtText {
		d.ydocMu.RLock()
		defer d.ydocMu.RUnlock()
		ops, err := d.ydoc.Operations()
		if err != nil {
			return nil, errCrdt(err.Error())
		}
		return ops, nil
	}
	d.dataMu.RLock()
	defer d.dataMu.RUnlock()
	b, err := d.lwwData.MarshalJSON()
	if err != nil {
		return nil, errCrdt(err.Error())
	}
	return b, nil
}

// ApplyUpdate merges opaque state bytes produced by EncodeState, used for
// crdt-text cross-peer merging and for restoring a document from storage.
func (d *Document) ApplyUpdate(b []byte) error {
	if d.strategy == StrategyCrdtText {
		d.ydocMu.Lock()
		defer d.ydocMu.Unlock()
		if err := d.ydoc.Apply(b); err != nil {
			return errCrdt(err.Error())
		}
		return nil
	}
	var v value.Value
	if err := v.UnmarshalJSON(b); err != nil {
		return errCrdt(err.Error())
	}
	d.dataMu.Lock()
	d.lwwData = v
	d.dataMu.Unlock()
	return nil
}

// ShouldCompact reports whether the next operation should trigger
// compaction: update_count >= CompactionThreshold, or update_count >
// compactionCountFloor and the encoded state size >= CompactionSizeThreshold.
func (d *Document) ShouldCompact() bool {
	d.dataMu.RLock()
	uc := d.updateCount
	d.dataMu.RUnlock()
	if uc >= CompactionThreshold {
		return true
	}
	if uc > compactionCountFloor {
		b, err := d.EncodeState()
		if err == nil && len(b) >= CompactionSizeThreshold {
			return true
		}
	}
	return false
}

func (d *Document) maybeCompact() {
	if d.ShouldCompact() {
		_, _ = d.Compact()
	}
}

// Compact snapshots the document's current logical content, installs a
// fresh CRDT engine/value holding only that content, resets update_count to
// 0, increments compaction_count, and returns the number of bytes saved
// (never negative).
func (d *Document) Compact() (int, error) {
	before, err := d.EncodeState()
	if err != nil {
		return 0, err
	}
	if d.strategy == StrategyCrdtText {
		text := d.textContent()
		d.ydocMu.Lock()
		fresh := rdoc.Init(d.id)
		b, _ := json.Marshal(text)
		patch := []byte(`[{"op":"add","path":"/","value":{}},{"op":"add","path":"` + textEnginePath + `","value":` + string(b) + `}]`)
		if err := fresh.Apply(patch); err != nil {
			d.ydocMu.Unlock()
			return 0, errCrdt(err.Error())
		}
		d.ydoc = fresh
		d.ydocMu.Unlock()
	}
	// For the value-tree strategies there is nothing to "re-install": the
	// tree already holds only current content. update_count still resets,
	// matching the semantics that compaction collapses operation history,
	// not observable content (§4.1.1 content invariant).
	d.dataMu.Lock()
	d.updateCount = 0
	d.compactionCount++
	d.dataMu.Unlock()

	after, err := d.EncodeState()
	if err != nil {
		return 0, err
	}
	saved := len(before) - len(after)
	if saved < 0 {
		saved = 0
	}
	return saved, nil
}

// UpdateCount returns the number of operations applied since last
// compaction.
func (d *Document) UpdateCount() int {
	d.dataMu.RLock()
	defer d.dataMu.RUnlock()
	return d.updateCount
}

// CompactionCount returns the number of times this document has been
// compacted.
func (d *Document) CompactionCount() int {
	d.dataMu.RLock()
	defer d.dataMu.RUnlock()
	return d.compactionCount
}
