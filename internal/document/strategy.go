package document

import "strings"

// Strategy is the closed conflict-resolution enum a document is typed by for
// its whole life.
type Strategy int

const (
	StrategyLWW Strategy = iota
	StrategyCrdtCounter
	StrategyCrdtSet
	StrategyCrdtMap
	StrategyCrdtText
)

func (s Strategy) String() string {
	switch s {
	case StrategyLWW:
		return "lww"
	case StrategyCrdtCounter:
		return "crdt-counter"
	case StrategyCrdtSet:
		return "crdt-set"
	case StrategyCrdtMap:
		return "crdt-map"
	case StrategyCrdtText:
		return "crdt-text"
	default:
		return "unknown"
	}
}

// ParseStrategy parses a strategy name case-insensitively, accepting the
// short aliases (counter, set, map, text) alongside the full names. Empty
// input defaults to lww.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lww":
		return StrategyLWW, nil
	case "crdt-counter", "counter":
		return StrategyCrdtCounter, nil
	case "crdt-set", "set":
		return StrategyCrdtSet, nil
	case "crdt-map", "map":
		return StrategyCrdtMap, nil
	case "crdt-text", "text":
		return StrategyCrdtText, nil
	default:
		return 0, errInvalidStrategy("unknown strategy: " + s)
	}
}

// usesCrdtEngine reports whether the strategy stores authoritative content
// in the rdoc CRDT engine (ydoc) rather than the plain Value tree. Per the
// strategy table, only crdt-text does; lww/crdt-counter/crdt-set/crdt-map
// all live in lww_data.
func (s Strategy) usesCrdtEngine() bool {
	return s == StrategyCrdtText
}
