package connection

// AuthState is the per-connection authentication state machine (spec §4.3).
type AuthState int

const (
	StateUnauth AuthState = iota
	StateAuthed
	StateClosed
)
