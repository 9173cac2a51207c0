// Package proto holds the relay's wire texts. There is no framing: the first
// read from a peer is its display name and every later read is one message.
package proto

// MaxMessageSize is the default per-read buffer; longer sends are split by the
// transport into independent messages.
const MaxMessageSize = 1024

// Connected is broadcast when a peer completes the name handshake.
func Connected(name []byte) []byte {
	return join("[", name, "] connected\n")
}

// Disconnected is broadcast when a peer's connection is removed.
func Disconnected(name []byte) []byte {
	return join("[", name, "] disconnected\n")
}

// Message wraps a client payload verbatim; no newline is appended.
func Message(name, payload []byte) []byte {
	b := make([]byte, 0, len("Message from [")+len(name)+len("]: ")+len(payload))
	b = append(b, "Message from ["...)
	b = append(b, name...)
	b = append(b, "]: "...)
	return append(b, payload...)
}

func join(prefix string, name []byte, suffix string) []byte {
	b := make([]byte, 0, len(prefix)+len(name)+len(suffix))
	b = append(b, prefix...)
	b = append(b, name...)
	return append(b, suffix...)
}
