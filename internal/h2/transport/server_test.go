package transport

import (
	"bytes"
	"io"
	"log"
	"testing"

	"github.com/albertbausili/h2bridge/internal/h2/frame"
	"github.com/albertbausili/h2bridge/pkg/h2bridge"
	"github.com/panjf2000/gnet/v2"
	"golang.org/x/net/http2"
)

// fakeConn captures outbound bytes. Only the methods the connection actually
// uses are implemented; everything else panics via the nil embedded Conn.
type fakeConn struct {
	gnet.Conn
	written bytes.Buffer
}

func (f *fakeConn) AsyncWrite(buf []byte, _ gnet.AsyncCallback) error {
	f.written.Write(buf)
	return nil
}

func testConfig() Config {
	return Config{
		Addr:                 "127.0.0.1:0",
		Logger:               log.New(io.Discard, "", 0),
		MaxConcurrentStreams: 100,
		MaxContentLength:     1 << 20,
		ValidateHeaders:      true,
	}
}

func newTestConnection(t *testing.T, handler Handler) (*Connection, *fakeConn) {
	t.Helper()
	fc := &fakeConn{}
	conn, err := NewConnection(fc, handler, testConfig())
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}
	return conn, fc
}

// clientBytes builds a client-side byte sequence with the connection preface
// followed by the frames produced by write.
func clientBytes(t *testing.T, write func(w *frame.Writer) error) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(http2Preface)
	w := frame.NewWriter(&buf)
	if err := write(w); err != nil {
		t.Fatalf("building client frames: %v", err)
	}
	return buf.Bytes()
}

// writtenFrameTypes decodes the frame types the connection sent.
func writtenFrameTypes(t *testing.T, fc *fakeConn) []http2.FrameType {
	t.Helper()
	fr := http2.NewFramer(nil, bytes.NewReader(fc.written.Bytes()))
	var types []http2.FrameType
	for {
		f, err := fr.ReadFrame()
		if err == io.EOF {
			return types
		}
		if err != nil {
			t.Fatalf("decoding written frames: %v", err)
		}
		types = append(types, f.Header().Type)
	}
}

func TestConnection_RequestDelivery(t *testing.T) {
	var delivered []*h2bridge.Message
	conn, fc := newTestConnection(t, HandlerFunc(func(_ *Connection, msg *h2bridge.Message) {
		delivered = append(delivered, msg)
	}))

	data := clientBytes(t, func(w *frame.Writer) error {
		if err := w.WriteSettings(); err != nil {
			return err
		}
		headers := [][2]string{
			{":method", "POST"},
			{":scheme", "https"},
			{":authority", "example.org"},
			{":path", "/upload"},
		}
		if err := w.WriteHeaders(1, headers, nil, 0, false); err != nil {
			return err
		}
		return w.WriteData(1, true, []byte("hello"), 0)
	})

	if err := conn.HandleData(data); err != nil {
		t.Fatalf("HandleData() error = %v", err)
	}

	if len(delivered) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(delivered))
	}
	msg := delivered[0]
	if msg.Method != "POST" || msg.Path != "/upload" {
		t.Errorf("request line = %s %s", msg.Method, msg.Path)
	}
	if got := msg.Body.String(); got != "hello" {
		t.Errorf("body = %q, want %q", got, "hello")
	}

	// Outbound: server preface SETTINGS plus the ack of the client's SETTINGS.
	types := writtenFrameTypes(t, fc)
	if len(types) != 2 || types[0] != http2.FrameSettings || types[1] != http2.FrameSettings {
		t.Errorf("written frames = %v, want [SETTINGS SETTINGS]", types)
	}
}

func TestConnection_FragmentedDelivery(t *testing.T) {
	var delivered []*h2bridge.Message
	conn, _ := newTestConnection(t, HandlerFunc(func(_ *Connection, msg *h2bridge.Message) {
		delivered = append(delivered, msg)
	}))

	data := clientBytes(t, func(w *frame.Writer) error {
		headers := [][2]string{
			{":method", "GET"},
			{":scheme", "https"},
			{":authority", "example.org"},
			{":path", "/"},
		}
		return w.WriteHeaders(1, headers, nil, 0, true)
	})

	// Feed one byte at a time; nothing may dispatch early or be lost.
	for i := 0; i < len(data); i++ {
		if err := conn.HandleData(data[i : i+1]); err != nil {
			t.Fatalf("HandleData() error at byte %d: %v", i, err)
		}
	}
	if len(delivered) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(delivered))
	}
}

func TestConnection_InvalidPreface(t *testing.T) {
	conn, fc := newTestConnection(t, HandlerFunc(func(*Connection, *h2bridge.Message) {}))

	if err := conn.HandleData([]byte("GET / HTTP/1.1\r\n")); err == nil {
		t.Fatal("expected error for invalid preface")
	}

	types := writtenFrameTypes(t, fc)
	if len(types) != 1 || types[0] != http2.FrameGoAway {
		t.Errorf("written frames = %v, want [GOAWAY]", types)
	}
}

func TestConnection_StreamErrorResetsStreamOnly(t *testing.T) {
	conn, fc := newTestConnection(t, HandlerFunc(func(*Connection, *h2bridge.Message) {}))

	// DATA for a stream that never saw HEADERS is a stream-level error.
	data := clientBytes(t, func(w *frame.Writer) error {
		return w.WriteData(5, false, []byte("orphan"), 0)
	})
	if err := conn.HandleData(data); err != nil {
		t.Fatalf("HandleData() error = %v, want stream isolation", err)
	}

	var sawRST bool
	for _, ft := range writtenFrameTypes(t, fc) {
		if ft == http2.FrameRSTStream {
			sawRST = true
		}
		if ft == http2.FrameGoAway {
			t.Error("stream-level error escalated to GOAWAY")
		}
	}
	if !sawRST {
		t.Error("no RST_STREAM written for orphan DATA frame")
	}

	// The connection keeps serving after the reset.
	var delivered int
	conn.handler = HandlerFunc(func(*Connection, *h2bridge.Message) { delivered++ })
	followup := &bytes.Buffer{}
	w := frame.NewWriter(followup)
	headers := [][2]string{
		{":method", "GET"},
		{":scheme", "https"},
		{":authority", "example.org"},
		{":path", "/"},
	}
	if err := w.WriteHeaders(7, headers, nil, 0, true); err != nil {
		t.Fatalf("WriteHeaders() error = %v", err)
	}
	if err := conn.HandleData(followup.Bytes()); err != nil {
		t.Fatalf("HandleData() after reset error = %v", err)
	}
	if delivered != 1 {
		t.Errorf("delivered = %d after reset, want 1", delivered)
	}
}

func TestConnection_AnswersPing(t *testing.T) {
	conn, fc := newTestConnection(t, HandlerFunc(func(*Connection, *h2bridge.Message) {}))

	data := clientBytes(t, func(w *frame.Writer) error {
		return w.WritePing(false, [8]byte{'0', '1', '2', '3', '4', '5', '6', '7'})
	})
	if err := conn.HandleData(data); err != nil {
		t.Fatalf("HandleData() error = %v", err)
	}

	fr := http2.NewFramer(nil, bytes.NewReader(fc.written.Bytes()))
	for {
		f, err := fr.ReadFrame()
		if err == io.EOF {
			t.Fatal("no PING ack written")
		}
		if err != nil {
			t.Fatalf("decoding written frames: %v", err)
		}
		if pf, ok := f.(*http2.PingFrame); ok {
			if !pf.IsAck() {
				t.Error("PING answer missing ack flag")
			}
			if pf.Data != [8]byte{'0', '1', '2', '3', '4', '5', '6', '7'} {
				t.Errorf("PING ack payload = %q", pf.Data)
			}
			return
		}
	}
}

func TestConnection_ShutdownSendsGoAwayOnce(t *testing.T) {
	conn, fc := newTestConnection(t, HandlerFunc(func(*Connection, *h2bridge.Message) {}))

	if err := conn.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := conn.Shutdown(); err != nil {
		t.Fatalf("repeat Shutdown() error = %v", err)
	}

	var goAways int
	for _, ft := range writtenFrameTypes(t, fc) {
		if ft == http2.FrameGoAway {
			goAways++
		}
	}
	if goAways != 1 {
		t.Errorf("GOAWAY frames written = %d, want 1", goAways)
	}
}

func TestConnection_WriteResponse(t *testing.T) {
	conn, fc := newTestConnection(t, HandlerFunc(func(*Connection, *h2bridge.Message) {}))

	if err := conn.WriteResponse(1, 200, [][2]string{{"content-type", "text/plain"}}, []byte("ok\n")); err != nil {
		t.Fatalf("WriteResponse() error = %v", err)
	}

	types := writtenFrameTypes(t, fc)
	if len(types) != 2 || types[0] != http2.FrameHeaders || types[1] != http2.FrameData {
		t.Errorf("written frames = %v, want [HEADERS DATA]", types)
	}
}

func TestNewServerDefaults(t *testing.T) {
	s := NewServer(HandlerFunc(func(*Connection, *h2bridge.Message) {}), Config{Addr: ":0"})
	if s.cfg.Logger == nil {
		t.Error("Logger not defaulted")
	}
	if s.cfg.MaxContentLength != 1<<20 {
		t.Errorf("MaxContentLength = %d, want %d", s.cfg.MaxContentLength, 1<<20)
	}
	if s.cfg.MaxConcurrentStreams != 100 {
		t.Errorf("MaxConcurrentStreams = %d, want 100", s.cfg.MaxConcurrentStreams)
	}
}
