// Package frame defines the HTTP/2 frame field model and provides a frame
// writer and a frame-event decoder built on golang.org/x/net/http2.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// Type represents HTTP/2 frame types
type Type uint8

// HTTP/2 frame type constants
const (
	FrameData         Type = 0x0
	FrameHeaders      Type = 0x1
	FramePriority     Type = 0x2
	FrameRSTStream    Type = 0x3
	FrameSettings     Type = 0x4
	FramePushPromise  Type = 0x5
	FramePing         Type = 0x6
	FrameGoAway       Type = 0x7
	FrameWindowUpdate Type = 0x8
	FrameContinuation Type = 0x9
)

// Flags represents HTTP/2 frame flags
type Flags uint8

// HTTP/2 frame flag constants
const (
	FlagEndStream  Flags = 0x1
	FlagAck        Flags = 0x1
	FlagEndHeaders Flags = 0x4
	FlagPadded     Flags = 0x8
	FlagPriority   Flags = 0x20
)

// MaxStreamID is the largest legal stream identifier. The top bit of the
// 32-bit field on the wire is reserved and always zero.
const MaxStreamID uint32 = 0x7FFFFFFF

// MaxWindowIncrement is the largest legal WINDOW_UPDATE increment.
const MaxWindowIncrement uint32 = 0x7FFFFFFF

// Listener receives decoded frame events. Events for one connection are
// dispatched strictly in wire order and never concurrently. Byte slices
// handed to a callback are only valid for the duration of the call; the
// listener must copy anything it wants to keep.
type Listener interface {
	// OnHeaders is called for a HEADERS frame without priority information.
	OnHeaders(streamID uint32, headers [][2]string, padding int, endStream bool) error

	// OnHeadersPriority is called for a HEADERS frame carrying priority
	// information. The weight is the wire value (0..255, semantic 1..256).
	OnHeadersPriority(streamID uint32, headers [][2]string, priority http2.PriorityParam, padding int, endStream bool) error

	// OnData is called for a DATA frame. data excludes padding.
	OnData(streamID uint32, data []byte, padding int, endStream bool) error

	// OnRSTStream is called for a RST_STREAM frame.
	OnRSTStream(streamID uint32, errCode uint32) error

	// OnPushPromise is called for a PUSH_PROMISE frame once its header
	// block is complete.
	OnPushPromise(streamID, promisedStreamID uint32, headers [][2]string, padding int) error

	// OnSettings is called for a SETTINGS frame; settings preserves wire order.
	OnSettings(settings []http2.Setting, ack bool) error

	// OnPing is called for a PING frame with its 8-byte opaque payload.
	OnPing(ack bool, data [8]byte) error

	// OnWindowUpdate is called for a WINDOW_UPDATE frame.
	OnWindowUpdate(streamID, increment uint32) error

	// OnPriority is called for a PRIORITY frame.
	OnPriority(streamID uint32, priority http2.PriorityParam) error

	// OnGoAway is called for a GOAWAY frame.
	OnGoAway(lastStreamID uint32, errCode uint32, debugData []byte) error
}

// headerBufPool reuses temporary buffers used during HPACK encoding to reduce allocations.
var headerBufPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// HeaderEncoder encodes header lists using HPACK
type HeaderEncoder struct {
	encoder *hpack.Encoder
	buf     *bytes.Buffer
}

// NewHeaderEncoder creates a new header encoder
func NewHeaderEncoder() *HeaderEncoder {
	buf := headerBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	return &HeaderEncoder{
		encoder: hpack.NewEncoder(buf),
		buf:     buf,
	}
}

// Encode encodes headers to HPACK format
func (e *HeaderEncoder) Encode(headers [][2]string) ([]byte, error) {
	e.buf.Reset()
	for _, h := range headers {
		if err := e.encoder.WriteField(hpack.HeaderField{Name: h[0], Value: h[1]}); err != nil {
			return nil, err
		}
	}
	// Return a copy so the internal buffer can be reused
	result := make([]byte, e.buf.Len())
	copy(result, e.buf.Bytes())
	return result, nil
}

// Close releases internal resources back to the pool. The encoder must not
// be used after Close.
func (e *HeaderEncoder) Close() {
	if e.buf != nil {
		e.buf.Reset()
		headerBufPool.Put(e.buf)
		e.buf = nil
		e.encoder = nil
	}
}

// HeaderDecoder decodes HPACK-encoded header blocks
type HeaderDecoder struct {
	decoder *hpack.Decoder
}

// NewHeaderDecoder creates a new header decoder
func NewHeaderDecoder(maxTableSize uint32) *HeaderDecoder {
	return &HeaderDecoder{
		decoder: hpack.NewDecoder(maxTableSize, nil),
	}
}

// Decode decodes a complete HPACK header block
func (d *HeaderDecoder) Decode(block []byte) ([][2]string, error) {
	headers := make([][2]string, 0, 8)
	d.decoder.SetEmitFunc(func(hf hpack.HeaderField) {
		headers = append(headers, [2]string{hf.Name, hf.Value})
	})
	defer d.decoder.SetEmitFunc(nil)

	if _, err := d.decoder.Write(block); err != nil {
		return nil, fmt.Errorf("hpack decode error: %w", err)
	}
	if err := d.decoder.Close(); err != nil {
		return nil, fmt.Errorf("hpack decode error: %w", err)
	}
	return headers, nil
}

// Writer writes HTTP/2 frames to an underlying writer. All methods are safe
// for concurrent use.
type Writer struct {
	framer  *http2.Framer
	writer  io.Writer
	encoder *HeaderEncoder
	mu      sync.Mutex
}

// NewWriter creates a new frame writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		framer:  http2.NewFramer(w, nil),
		writer:  w,
		encoder: NewHeaderEncoder(),
	}
}

// Flush flushes any buffered data
func (w *Writer) Flush() error {
	if flusher, ok := w.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// WriteData writes a DATA frame. padLen zero-value pad bytes are appended
// and the PADDED flag set when padLen > 0.
func (w *Writer) WriteData(streamID uint32, endStream bool, data []byte, padLen int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if padLen > 0 {
		return w.framer.WriteDataPadded(streamID, endStream, data, make([]byte, padLen))
	}
	return w.framer.WriteData(streamID, endStream, data)
}

// WriteHeaders HPACK-encodes headers and writes a HEADERS frame. priority
// may be nil.
func (w *Writer) WriteHeaders(streamID uint32, headers [][2]string, priority *http2.PriorityParam, padLen int, endStream bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	block, err := w.encoder.Encode(headers)
	if err != nil {
		return err
	}

	param := http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: block,
		EndStream:     endStream,
		EndHeaders:    true,
		PadLength:     uint8(padLen),
	}
	if priority != nil {
		param.Priority = *priority
	}
	return w.framer.WriteHeaders(param)
}

// WritePushPromise HPACK-encodes headers and writes a PUSH_PROMISE frame.
func (w *Writer) WritePushPromise(streamID, promisedStreamID uint32, headers [][2]string, padLen int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	block, err := w.encoder.Encode(headers)
	if err != nil {
		return err
	}
	return w.framer.WritePushPromise(http2.PushPromiseParam{
		StreamID:      streamID,
		PromiseID:     promisedStreamID,
		BlockFragment: block,
		EndHeaders:    true,
		PadLength:     uint8(padLen),
	})
}

// WriteRSTStream writes a RST_STREAM frame
func (w *Writer) WriteRSTStream(streamID uint32, errCode uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framer.WriteRSTStream(streamID, http2.ErrCode(errCode))
}

// WritePing writes a PING frame
func (w *Writer) WritePing(ack bool, data [8]byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framer.WritePing(ack, data)
}

// WritePriority writes a PRIORITY frame
func (w *Writer) WritePriority(streamID uint32, priority http2.PriorityParam) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framer.WritePriority(streamID, priority)
}

// WriteSettings writes a SETTINGS frame preserving setting order
func (w *Writer) WriteSettings(settings ...http2.Setting) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framer.WriteSettings(settings...)
}

// WriteSettingsAck writes a SETTINGS acknowledgment frame
func (w *Writer) WriteSettingsAck() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framer.WriteSettingsAck()
}

// WriteWindowUpdate writes a WINDOW_UPDATE frame
func (w *Writer) WriteWindowUpdate(streamID, increment uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framer.WriteWindowUpdate(streamID, increment)
}

// WriteGoAway writes a GOAWAY frame
func (w *Writer) WriteGoAway(lastStreamID uint32, errCode uint32, debugData []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framer.WriteGoAway(lastStreamID, http2.ErrCode(errCode), debugData)
}

// Close releases the writer's encoder resources.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.encoder != nil {
		w.encoder.Close()
		w.encoder = nil
	}
}

// blockKind identifies which frame type opened a header block.
type blockKind int

const (
	blockNone blockKind = iota
	blockHeaders
	blockPushPromise
)

// pendingBlock accumulates header block fragments across a HEADERS or
// PUSH_PROMISE frame and its CONTINUATION frames.
type pendingBlock struct {
	kind             blockKind
	streamID         uint32
	promisedStreamID uint32
	padding          int
	endStream        bool
	hasPriority      bool
	priority         http2.PriorityParam
	frag             bytes.Buffer
}

// Decoder reads HTTP/2 frames from a reader and dispatches decoded events to
// a Listener. Header blocks are decoded with HPACK once complete, so a
// HEADERS or PUSH_PROMISE event is only delivered after its final
// CONTINUATION frame.
type Decoder struct {
	framer  *http2.Framer
	headers *HeaderDecoder
	block   pendingBlock
}

// NewDecoder creates a decoder bound to r. The reader must be persistent:
// the decoder carries HPACK and CONTINUATION state across frames.
func NewDecoder(r io.Reader) *Decoder {
	framer := http2.NewFramer(nil, r)
	framer.SetMaxReadFrameSize(1 << 20)
	return &Decoder{
		framer:  framer,
		headers: NewHeaderDecoder(4096),
	}
}

// Next reads frames until one complete event can be dispatched to l, then
// dispatches it and returns. It returns io.EOF once the underlying reader is
// exhausted between frames.
func (d *Decoder) Next(l Listener) error {
	for {
		f, err := d.framer.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return io.EOF
			}
			return err
		}

		done, err := d.dispatch(f, l)
		if err != nil || done {
			return err
		}
	}
}

// Run dispatches events to l until the reader is exhausted or an error occurs.
func (d *Decoder) Run(l Listener) error {
	for {
		if err := d.Next(l); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// dispatch handles a single raw frame. It reports whether a complete event
// was delivered to the listener.
func (d *Decoder) dispatch(f http2.Frame, l Listener) (bool, error) {
	if d.block.kind != blockNone {
		cf, ok := f.(*http2.ContinuationFrame)
		if !ok || cf.Header().StreamID != d.block.streamID {
			return false, fmt.Errorf("expected CONTINUATION for stream %d, got %v", d.block.streamID, f.Header().Type)
		}
		d.block.frag.Write(cf.HeaderBlockFragment())
		if !cf.HeadersEnded() {
			return false, nil
		}
		return true, d.finishBlock(l)
	}

	switch f := f.(type) {
	case *http2.DataFrame:
		padding := 0
		if f.Header().Flags.Has(http2.FlagDataPadded) {
			padding = int(f.Header().Length) - len(f.Data()) - 1
		}
		return true, l.OnData(f.Header().StreamID, f.Data(), padding, f.StreamEnded())

	case *http2.HeadersFrame:
		d.block = pendingBlock{
			kind:        blockHeaders,
			streamID:    f.Header().StreamID,
			endStream:   f.StreamEnded(),
			hasPriority: f.HasPriority(),
			priority:    f.Priority,
		}
		if f.Header().Flags.Has(http2.FlagHeadersPadded) {
			overhead := 1 // pad length octet
			if f.HasPriority() {
				overhead += 5
			}
			d.block.padding = int(f.Header().Length) - len(f.HeaderBlockFragment()) - overhead
		}
		d.block.frag.Write(f.HeaderBlockFragment())
		if !f.HeadersEnded() {
			return false, nil
		}
		return true, d.finishBlock(l)

	case *http2.PushPromiseFrame:
		d.block = pendingBlock{
			kind:             blockPushPromise,
			streamID:         f.Header().StreamID,
			promisedStreamID: f.PromiseID,
		}
		if f.Header().Flags.Has(http2.FlagPushPromisePadded) {
			// pad length octet plus the 4-byte promised stream id
			d.block.padding = int(f.Header().Length) - len(f.HeaderBlockFragment()) - 5
		}
		d.block.frag.Write(f.HeaderBlockFragment())
		if !f.HeadersEnded() {
			return false, nil
		}
		return true, d.finishBlock(l)

	case *http2.RSTStreamFrame:
		return true, l.OnRSTStream(f.Header().StreamID, uint32(f.ErrCode))

	case *http2.SettingsFrame:
		var settings []http2.Setting
		if err := f.ForeachSetting(func(s http2.Setting) error {
			settings = append(settings, s)
			return nil
		}); err != nil {
			return false, err
		}
		return true, l.OnSettings(settings, f.IsAck())

	case *http2.PingFrame:
		return true, l.OnPing(f.IsAck(), f.Data)

	case *http2.WindowUpdateFrame:
		return true, l.OnWindowUpdate(f.Header().StreamID, f.Increment)

	case *http2.PriorityFrame:
		return true, l.OnPriority(f.Header().StreamID, f.PriorityParam)

	case *http2.GoAwayFrame:
		return true, l.OnGoAway(f.LastStreamID, uint32(f.ErrCode), f.DebugData())

	case *http2.ContinuationFrame:
		return false, fmt.Errorf("CONTINUATION on stream %d without open header block", f.Header().StreamID)

	default:
		// Unknown extension frames are ignored per RFC 7540 §4.1.
		return false, nil
	}
}

// finishBlock HPACK-decodes the accumulated header block and dispatches the
// HEADERS or PUSH_PROMISE event it belongs to.
func (d *Decoder) finishBlock(l Listener) error {
	block := d.block
	d.block = pendingBlock{}

	headers, err := d.headers.Decode(block.frag.Bytes())
	if err != nil {
		return err
	}

	switch block.kind {
	case blockHeaders:
		if block.hasPriority {
			return l.OnHeadersPriority(block.streamID, headers, block.priority, block.padding, block.endStream)
		}
		return l.OnHeaders(block.streamID, headers, block.padding, block.endStream)
	case blockPushPromise:
		return l.OnPushPromise(block.streamID, block.promisedStreamID, headers, block.padding)
	}
	return nil
}
