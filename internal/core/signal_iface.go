package core

// Frame is a raw signaling payload.
type Frame []byte

// SessionID is the relay-assigned identifier of one signaling connection.
type SessionID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
