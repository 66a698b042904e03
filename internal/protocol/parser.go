package protocol

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/ussync/ussyncd/internal/value"
)

// MaxMessageSize caps the parser's internal buffer (spec §4.5.1).
const MaxMessageSize = 1 << 20 // 1 MiB

// Parser is a streaming, framed-by-newline command parser tolerant of
// partial frames across multiple Feed calls.
type Parser struct {
	buf []byte
}

// NewParser constructs an empty Parser.
func NewParser() *Parser { return &Parser{} }

// Feed appends bytes to the internal buffer. Returns MessageTooLarge if the
// buffer would exceed MaxMessageSize; the caller must terminate the
// connection in that case.
func (p *Parser) Feed(b []byte) error {
	if len(p.buf)+len(b) > MaxMessageSize {
		return errMessageTooLarge(len(p.buf)+len(b), MaxMessageSize)
	}
	p.buf = append(p.buf, b...)
	return nil
}

// Parse extracts and parses the next complete line from the buffer. It
// returns (nil, ErrIncompleteSentinel) when no full line is buffered yet.
// On a parse error the offending line is still consumed, so the session can
// continue (spec §7, "Recovery").
func (p *Parser) Parse() (*Command, error) {
	nl := bytes.IndexByte(p.buf, '\n')
	if nl < 0 {
		return nil, ErrIncompleteSentinel
	}
	line := p.buf[:nl]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	p.buf = p.buf[nl+1:]
	return parseLine(string(line))
}

func parseLine(line string) (*Command, error) {
	t := newTokenizer(line)
	kwTok, ok := t.next()
	if !ok {
		return nil, errInvalidCommand("empty command")
	}
	kw := strings.ToUpper(kwTok)
	switch kw {
	case "AUTH":
		return parseAuth(t)
	case "CREATE":
		return parseCreate(t)
	case "GET":
		return parseGetOrDelete(t, KindGet)
	case "SET":
		return parseSet(t)
	case "DEL", "DELETE":
		return parseGetOrDelete(t, KindDelete)
	case "SUB", "SUBSCRIBE":
		return parseSub(t)
	case "UNSUB", "UNSUBSCRIBE":
		return parseUnsub(t)
	case "PUSH":
		return parsePush(t)
	case "INC", "INCR", "INCREMENT":
		return parseIncrement(t)
	case "PRESENCE":
		return parsePresence(t)
	case "PING":
		return &Command{Kind: KindPing}, nil
	case "QUIT":
		return &Command{Kind: KindQuit}, nil
	case "INFO":
		return &Command{Kind: KindInfo}, nil
	case "KEYS":
		return parseKeys(t)
	case "COMPACT":
		return parseCompact(t)
	default:
		return nil, errInvalidCommand("unknown command: " + kwTok)
	}
}

func parseAuth(t *tokenizer) (*Command, error) {
	pw, ok := t.next()
	if !ok {
		return nil, errMissingArgument("AUTH requires a password")
	}
	return &Command{Kind: KindAuth, Password: pw}, nil
}

func parseCreate(t *tokenizer) (*Command, error) {
	id, ok := t.next()
	if !ok {
		return nil, errMissingArgument("CREATE requires an id")
	}
	cmd := &Command{Kind: KindCreate, DocumentID: id}
	for !t.atEnd() {
		kw, _ := t.next()
		switch strings.ToUpper(kw) {
		case "STRATEGY":
			s, ok := t.next()
			if !ok {
				return nil, errMissingArgument("STRATEGY requires a value")
			}
			cmd.Strategy = s
		case "TTL":
			ttlTok, ok := t.next()
			if !ok {
				return nil, errMissingArgument("TTL requires a value")
			}
			ms, err := strconv.ParseInt(ttlTok, 10, 64)
			if err != nil {
				return nil, errInvalidArgument("TTL must be an integer: " + ttlTok)
			}
			cmd.HasTTL = true
			cmd.TTLMs = ms
		default:
			return nil, errInvalidArgument("unknown CREATE option: " + kw)
		}
	}
	return cmd, nil
}

func parseGetOrDelete(t *tokenizer, kind Kind) (*Command, error) {
	id, ok := t.next()
	if !ok {
		return nil, errMissingArgument("requires an id")
	}
	cmd := &Command{Kind: kind, DocumentID: id}
	if !t.atEnd() {
		first, _ := t.next()
		if strings.ToUpper(first) == "PATH" {
			p, ok := t.next()
			if !ok {
				return nil, errMissingArgument("PATH requires a value")
			}
			cmd.Path, cmd.HasPath = p, true
		} else {
			cmd.Path, cmd.HasPath = first, true
		}
	}
	return cmd, nil
}

func parseSet(t *tokenizer) (*Command, error) {
	id, ok := t.next()
	if !ok {
		return nil, errMissingArgument("SET requires an id")
	}
	path, ok := t.next()
	if !ok {
		return nil, errMissingArgument("SET requires a path")
	}
	raw := t.rest()
	if raw == "" {
		return nil, errMissingArgument("SET requires a value")
	}
	return &Command{Kind: KindSet, DocumentID: id, Path: path, HasPath: true, Value: value.ParseText(raw)}, nil
}

func parseSub(t *tokenizer) (*Command, error) {
	pattern, ok := t.next()
	if !ok {
		return nil, errMissingArgument("SUB requires a pattern")
	}
	cmd := &Command{Kind: KindSubscribe, Pattern: pattern}
	if !t.atEnd() {
		kw, _ := t.next()
		if strings.ToUpper(kw) == "PATH" {
			p, ok := t.next()
			if !ok {
				return nil, errMissingArgument("PATH requires a value")
			}
			cmd.Path, cmd.HasPath = p, true
		}
	}
	return cmd, nil
}

func parseUnsub(t *tokenizer) (*Command, error) {
	pattern, ok := t.next()
	if !ok {
		return nil, errMissingArgument("UNSUB requires a pattern")
	}
	return &Command{Kind: KindUnsubscribe, Pattern: pattern}, nil
}

func parsePush(t *tokenizer) (*Command, error) {
	id, ok := t.next()
	if !ok {
		return nil, errMissingArgument("PUSH requires an id")
	}
	path, ok := t.next()
	if !ok {
		return nil, errMissingArgument("PUSH requires a path")
	}
	raw := t.rest()
	if raw == "" {
		return nil, errMissingArgument("PUSH requires a value")
	}
	return &Command{Kind: KindPush, DocumentID: id, Path: path, HasPath: true, Value: value.ParseText(raw)}, nil
}

func parseIncrement(t *tokenizer) (*Command, error) {
	id, ok := t.next()
	if !ok {
		return nil, errMissingArgument("INC requires an id")
	}
	path, ok := t.next()
	if !ok {
		return nil, errMissingArgument("INC requires a path")
	}
	cmd := &Command{Kind: KindIncrement, DocumentID: id, Path: path, HasPath: true, Delta: 1}
	if !t.atEnd() {
		deltaTok, _ := t.next()
		d, err := strconv.ParseInt(deltaTok, 10, 64)
		if err != nil {
			return nil, errInvalidArgument("delta must be an integer: " + deltaTok)
		}
		cmd.Delta = d
	}
	return cmd, nil
}

func parsePresence(t *tokenizer) (*Command, error) {
	id, ok := t.next()
	if !ok {
		return nil, errMissingArgument("PRESENCE requires an id")
	}
	cmd := &Command{Kind: KindPresence, DocumentID: id}
	if !t.atEnd() {
		first, _ := t.next()
		raw := first
		if strings.ToUpper(first) == "DATA" {
			raw = t.rest()
		} else if rem := t.rest(); rem != "" {
			raw = first + " " + rem
		}
		if raw != "" {
			cmd.Value = value.ParseText(raw)
			cmd.HasPath = true // reused as "has data" for PRESENCE
		}
	}
	return cmd, nil
}

func parseKeys(t *tokenizer) (*Command, error) {
	cmd := &Command{Kind: KindKeys}
	if !t.atEnd() {
		p, _ := t.next()
		cmd.Pattern = p
		cmd.HasPattern = true
	}
	return cmd, nil
}

func parseCompact(t *tokenizer) (*Command, error) {
	id, ok := t.next()
	if !ok {
		return nil, errMissingArgument("COMPACT requires an id")
	}
	return &Command{Kind: KindCompact, DocumentID: id}, nil
}
