package h2bridge

import (
	"bytes"
	"sync"
)

// MessageType tags a Message as a request or a response.
type MessageType int

// Message variants.
const (
	TypeRequest MessageType = iota
	TypeResponse
)

func (t MessageType) String() string {
	if t == TypeRequest {
		return "request"
	}
	return "response"
}

// Message is an aggregated HTTP/1.x-style message assembled from HTTP/2
// frame events for a single stream. Method and Path are set for requests,
// StatusCode for responses.
type Message struct {
	Type       MessageType
	StreamID   uint32
	Method     string
	Path       string
	StatusCode int
	Headers    *Headers
	Trailers   *Headers
	Body       *bytes.Buffer
}

var bodyPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

func getBody() *bytes.Buffer {
	b := bodyPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// releaseBody returns the body buffer to the pool. Only called on discard
// paths; delivered messages hand buffer ownership downstream.
func (m *Message) releaseBody() {
	if m.Body != nil {
		bodyPool.Put(m.Body)
		m.Body = nil
	}
}

// isInformational reports whether a response message carries an interim
// (1xx) status.
func (m *Message) isInformational() bool {
	return m.Type == TypeResponse && m.StatusCode >= 100 && m.StatusCode < 200
}
