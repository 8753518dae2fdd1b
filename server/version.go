package server

// Wire protocol version, announced in the dc message and checked by
// clients before they join.
const (
	ProtocolVersionMajor = 2
	ProtocolVersionMinor = 0
)

// Log format version, stamped on every log record envelope.
const (
	LogVersionMajor = 1
	LogVersionMinor = 0
)
