package h2bridge

import "fmt"

// ProtocolError reports a frame that arrived in a state violating the HTTP
// message-flow contract. It is fatal to the affected stream only; the
// adapter discards that stream's state before returning it.
type ProtocolError struct {
	StreamID uint32
	Reason   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on stream %d: %s", e.StreamID, e.Reason)
}

// SizeLimitError reports that appending a DATA payload would push a stream's
// accumulated body past the configured maximum content length. It is fatal
// to the affected stream only; the stream's state is discarded.
type SizeLimitError struct {
	StreamID uint32
	Max      int
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("content length exceeded max of %d for stream %d", e.Max, e.StreamID)
}

func protocolErrorf(streamID uint32, format string, args ...any) *ProtocolError {
	return &ProtocolError{StreamID: streamID, Reason: fmt.Sprintf(format, args...)}
}
