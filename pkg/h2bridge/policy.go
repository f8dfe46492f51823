package h2bridge

// immediateSendPolicy decides whether an in-progress message must be
// delivered before its stream completes. It is stateless and constructed
// once with the adapter.
type immediateSendPolicy struct{}

// mustSendImmediately reports whether msg should be delivered now instead of
// waiting for the end of the stream: informational responses and requests
// carrying an Expect header cannot wait.
func (immediateSendPolicy) mustSendImmediately(msg *Message) bool {
	if msg == nil {
		return false
	}
	switch msg.Type {
	case TypeResponse:
		return msg.isInformational()
	case TypeRequest:
		return msg.Headers.Contains("expect")
	}
	return false
}

// copyIfNeeded produces the replacement message that keeps accumulating
// under the same stream after an immediate send. An Expect request continues
// with an empty body and the expect header removed; an informational
// response is not followed by further body, so no copy is made.
func (immediateSendPolicy) copyIfNeeded(msg *Message) *Message {
	if msg.Type != TypeRequest {
		return nil
	}
	clone := &Message{
		Type:     TypeRequest,
		StreamID: msg.StreamID,
		Method:   msg.Method,
		Path:     msg.Path,
		Headers:  msg.Headers.Clone(),
		Trailers: msg.Trailers.Clone(),
		Body:     getBody(),
	}
	clone.Headers.Del("expect")
	return clone
}
