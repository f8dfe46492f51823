package h2bridge

import (
	"log"
	"strconv"

	"golang.org/x/net/http2"
)

// DeliverFunc hands a complete (or immediately sent interim) message to the
// next protocol stage. The message's content-length header is finalized to
// the accumulated body length before delivery.
type DeliverFunc func(*Message)

// Adapter converts decoded HTTP/2 frame events into aggregated HTTP/1.x
// messages, one pending message per open stream.
//
// The adapter holds no locks: callers must invoke its methods from a single
// sequential delivery context per connection, which is how frame decoders
// hand out events. Cross-stream independence is logical only.
type Adapter struct {
	cfg      Config
	deliver  DeliverFunc
	policy   immediateSendPolicy
	messages map[uint32]*Message
	settings []http2.Setting
	logger   *log.Logger
}

// New creates an aggregation adapter delivering completed messages to
// deliver. cfg.MaxContentLength must be positive.
func New(cfg Config, deliver DeliverFunc) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		cfg:      cfg,
		deliver:  deliver,
		messages: make(map[uint32]*Message),
		logger:   cfg.Logger,
	}, nil
}

// PendingStreams returns the number of streams with a pending message.
func (a *Adapter) PendingStreams() int {
	return len(a.messages)
}

// LastSettings returns the most recent non-ack SETTINGS received, in wire
// order, or nil.
func (a *Adapter) LastSettings() []http2.Setting {
	return a.settings
}

// OnHeaders handles a HEADERS frame event.
func (a *Adapter) OnHeaders(streamID uint32, headers [][2]string, padding int, endStream bool) error {
	msg, err := a.processHeadersBegin(streamID, headers, endStream, true, true)
	if err != nil {
		return err
	}
	if msg != nil {
		a.processHeadersEnd(streamID, msg, endStream)
	}
	return nil
}

// OnHeadersPriority handles a HEADERS frame event carrying priority
// information. Priority maintenance belongs to the connection layer; the
// headers are aggregated exactly as without it.
func (a *Adapter) OnHeadersPriority(streamID uint32, headers [][2]string, _ http2.PriorityParam, padding int, endStream bool) error {
	return a.OnHeaders(streamID, headers, padding, endStream)
}

// OnData handles a DATA frame event, appending the payload to the stream's
// pending message body.
func (a *Adapter) OnData(streamID uint32, data []byte, _ int, endStream bool) error {
	msg, ok := a.messages[streamID]
	if !ok {
		streamErrorsTotal.WithLabelValues("protocol").Inc()
		return protocolErrorf(streamID, "data frame received for unknown stream")
	}

	if msg.Body.Len() > a.cfg.MaxContentLength-len(data) {
		a.discardMessage(streamID)
		streamErrorsTotal.WithLabelValues("size_limit").Inc()
		return &SizeLimitError{StreamID: streamID, Max: a.cfg.MaxContentLength}
	}
	msg.Body.Write(data)

	if endStream {
		a.deliverNow(streamID, msg)
	}
	return nil
}

// OnRstStream handles a RST_STREAM frame event. A pending message is
// delivered in its current, possibly incomplete, form. A reset for a stream
// without state is a no-op: resets may legitimately arrive after completion.
func (a *Adapter) OnRstStream(streamID uint32, errCode uint32) error {
	if msg, ok := a.messages[streamID]; ok {
		a.logger.Printf("stream %d reset (code %d), delivering partial message", streamID, errCode)
		a.deliverNow(streamID, msg)
	}
	return nil
}

// OnRSTStream adapts OnRstStream to the frame listener surface.
func (a *Adapter) OnRSTStream(streamID uint32, errCode uint32) error {
	return a.OnRstStream(streamID, errCode)
}

// OnPushPromise handles a PUSH_PROMISE frame event. The promised stream must
// not already be tracked; the new message carries a back-reference header to
// the initiating stream and is stored without delivering.
func (a *Adapter) OnPushPromise(streamID, promisedStreamID uint32, headers [][2]string, _ int) error {
	msg, err := a.processHeadersBegin(promisedStreamID, headers, false, false, false)
	if err != nil {
		return err
	}
	if msg == nil {
		streamErrorsTotal.WithLabelValues("protocol").Inc()
		return protocolErrorf(promisedStreamID, "push promise frame received for pre-existing stream id %d", promisedStreamID)
	}

	msg.Headers.Set(HeaderStreamPromiseID, strconv.FormatUint(uint64(streamID), 10))
	a.processHeadersEnd(promisedStreamID, msg, false)
	return nil
}

// OnStreamRemoved discards any pending message for streamID. The stream is
// out of scope for the message flow and is no longer tracked. Removal is
// idempotent.
func (a *Adapter) OnStreamRemoved(streamID uint32) {
	a.discardMessage(streamID)
}

// OnSettings retains the most recent peer settings. Applying them is a
// connection-layer concern.
func (a *Adapter) OnSettings(settings []http2.Setting, ack bool) error {
	if !ack {
		a.settings = append(a.settings[:0], settings...)
	}
	return nil
}

// OnPing is accepted and ignored; answering pings belongs to the connection layer.
func (a *Adapter) OnPing(bool, [8]byte) error { return nil }

// OnWindowUpdate is accepted and ignored; flow control belongs to the connection layer.
func (a *Adapter) OnWindowUpdate(uint32, uint32) error { return nil }

// OnPriority is accepted and ignored; the priority tree belongs to the connection layer.
func (a *Adapter) OnPriority(uint32, http2.PriorityParam) error { return nil }

// OnGoAway is accepted and ignored; teardown is driven through OnStreamRemoved.
func (a *Adapter) OnGoAway(uint32, uint32, []byte) error { return nil }

// processHeadersBegin translates headers into the stream's pending message,
// creating one if needed, and applies the immediate-send policy. It returns
// nil without error when allowAppend is false and the stream already exists,
// signalling the conflict to the caller.
func (a *Adapter) processHeadersBegin(streamID uint32, headers [][2]string, endStream, allowAppend, appendToTrailer bool) (*Message, error) {
	msg, exists := a.messages[streamID]
	switch {
	case !exists:
		m, err := a.newMessage(streamID, headers)
		if err != nil {
			streamErrorsTotal.WithLabelValues("protocol").Inc()
			return nil, err
		}
		msg = m
	case allowAppend:
		if err := addTranslatedHeaders(streamID, msg, headers, appendToTrailer, a.cfg.ValidateHeaders); err != nil {
			a.discardMessage(streamID)
			streamErrorsTotal.WithLabelValues("protocol").Inc()
			return nil, err
		}
	default:
		return nil, nil
	}

	if a.policy.mustSendImmediately(msg) {
		a.deliverNow(streamID, msg)
		if endStream {
			return nil, nil
		}
		return a.policy.copyIfNeeded(msg), nil
	}
	return msg, nil
}

// processHeadersEnd either delivers the message or stores it for future
// frames.
func (a *Adapter) processHeadersEnd(streamID uint32, msg *Message, endStream bool) {
	if endStream {
		a.deliverNow(streamID, msg)
		return
	}
	if _, exists := a.messages[streamID]; !exists {
		pendingStreams.Inc()
	}
	a.messages[streamID] = msg
}

// newMessage builds a pending message from an initial header set. The local
// endpoint role decides the variant: a server aggregates requests, a client
// aggregates responses.
func (a *Adapter) newMessage(streamID uint32, headers [][2]string) (*Message, error) {
	msg := &Message{
		StreamID: streamID,
		Headers:  NewHeaders(),
		Trailers: NewHeaders(),
		Body:     getBody(),
	}

	if a.cfg.Server {
		msg.Type = TypeRequest
		msg.Method = pseudoValue(headers, ":method")
		msg.Path = pseudoValue(headers, ":path")
		if msg.Method == "" {
			return nil, protocolErrorf(streamID, "request headers missing :method")
		}
		if msg.Path == "" {
			return nil, protocolErrorf(streamID, "request headers missing :path")
		}
	} else {
		msg.Type = TypeResponse
		status := pseudoValue(headers, ":status")
		code, err := strconv.Atoi(status)
		if err != nil || code < 100 || code > 999 {
			return nil, protocolErrorf(streamID, "unparsable :status %q", status)
		}
		msg.StatusCode = code
	}

	if err := addTranslatedHeaders(streamID, msg, headers, false, a.cfg.ValidateHeaders); err != nil {
		msg.releaseBody()
		return nil, err
	}
	return msg, nil
}

// deliverNow finalizes content-length, removes the stream's entry, and hands
// the message downstream. Ownership of the body buffer transfers with it.
func (a *Adapter) deliverNow(streamID uint32, msg *Message) {
	a.removeMessage(streamID)
	msg.Headers.Set("content-length", strconv.Itoa(msg.Body.Len()))
	messagesDeliveredTotal.WithLabelValues(msg.Type.String()).Inc()
	messageBodyBytes.Observe(float64(msg.Body.Len()))
	a.deliver(msg)
}

// discardMessage removes the stream's entry and releases the body buffer.
func (a *Adapter) discardMessage(streamID uint32) {
	if msg, ok := a.messages[streamID]; ok {
		a.removeMessage(streamID)
		msg.releaseBody()
	}
}

func (a *Adapter) removeMessage(streamID uint32) {
	if _, ok := a.messages[streamID]; ok {
		delete(a.messages, streamID)
		pendingStreams.Dec()
	}
}

// pseudoValue returns the value of the first pseudo-header named name.
func pseudoValue(headers [][2]string, name string) string {
	for _, h := range headers {
		if h[0] == name {
			return h[1]
		}
	}
	return ""
}
