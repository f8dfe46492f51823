// Package transport binds the message aggregation adapter to real HTTP/2
// connections using the gnet event-driven model. Each connection is serviced
// by a single event loop, so frame events reach the adapter strictly in wire
// order and never concurrently.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/albertbausili/h2bridge/internal/h2/frame"
	"github.com/albertbausili/h2bridge/pkg/h2bridge"
	"github.com/panjf2000/gnet/v2"
	"golang.org/x/net/http2"
)

// HTTP/2 connection preface
const http2Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// Handler receives aggregated messages from a connection.
type Handler interface {
	HandleMessage(c *Connection, msg *h2bridge.Message)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(c *Connection, msg *h2bridge.Message)

// HandleMessage calls f(c, msg).
func (f HandlerFunc) HandleMessage(c *Connection, msg *h2bridge.Message) { f(c, msg) }

// Config defines the configuration options for the HTTP/2 transport server.
type Config struct {
	Addr                 string
	Multicore            bool
	NumEventLoop         int
	ReusePort            bool
	Logger               *log.Logger
	MaxConcurrentStreams uint32
	MaxContentLength     int
	ValidateHeaders      bool
}

// Server implements the gnet.EventHandler interface for HTTP/2 connections,
// aggregating each connection's streams into messages for its Handler.
type Server struct {
	gnet.BuiltinEventEngine
	handler       Handler
	ctx           context.Context
	cancel        context.CancelFunc
	cfg           Config
	logger        *log.Logger
	engine        gnet.Engine
	activeConns   []gnet.Conn // Track connections for shutdown only
	activeConnsMu sync.Mutex
}

// NewServer creates a new HTTP/2 aggregation server.
func NewServer(handler Handler, cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 1 << 20
	}
	if cfg.MaxConcurrentStreams == 0 {
		cfg.MaxConcurrentStreams = 100
	}

	return &Server{
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		logger:  cfg.Logger,
	}
}

// Start starts the gnet server
func (s *Server) Start() error {
	options := []gnet.Option{
		gnet.WithMulticore(s.cfg.Multicore),
		gnet.WithReusePort(s.cfg.ReusePort),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
	}
	if s.cfg.NumEventLoop > 0 {
		options = append(options, gnet.WithNumEventLoop(s.cfg.NumEventLoop))
	}

	s.logger.Printf("Starting HTTP/2 aggregation server on %s", s.cfg.Addr)
	return gnet.Run(s, "tcp://"+s.cfg.Addr, options...)
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	s.activeConnsMu.Lock()
	conns := make([]gnet.Conn, len(s.activeConns))
	copy(conns, s.activeConns)
	s.activeConnsMu.Unlock()

	for _, c := range conns {
		if conn, ok := c.Context().(*Connection); ok {
			_ = conn.Shutdown()
		}
	}

	// Brief grace period for GOAWAY frames to flush
	time.Sleep(50 * time.Millisecond)
	for _, c := range conns {
		_ = c.Close()
	}

	if err := s.engine.Stop(ctx); err != nil {
		s.logger.Printf("Error stopping gnet engine: %v", err)
	}

	s.logger.Println("Server shutdown complete")
	return nil
}

// OnBoot is called when the server is ready to accept connections
func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.engine = eng
	s.logger.Printf("HTTP/2 server is listening on %s (multicore: %v)", s.cfg.Addr, s.cfg.Multicore)
	return gnet.None
}

// OnOpen is called when a new connection is opened
func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	conn, err := NewConnection(c, s.handler, s.cfg)
	if err != nil {
		s.logger.Printf("Rejecting connection from %s: %v", c.RemoteAddr().String(), err)
		return nil, gnet.Close
	}
	c.SetContext(conn)

	s.activeConnsMu.Lock()
	s.activeConns = append(s.activeConns, c)
	s.activeConnsMu.Unlock()

	return nil, gnet.None
}

// OnClose is called when a connection is closed
func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	if conn, ok := c.Context().(*Connection); ok {
		conn.Close()
	}

	s.activeConnsMu.Lock()
	for i, conn := range s.activeConns {
		if conn == c {
			s.activeConns[i] = s.activeConns[len(s.activeConns)-1]
			s.activeConns = s.activeConns[:len(s.activeConns)-1]
			break
		}
	}
	s.activeConnsMu.Unlock()

	if err != nil {
		s.logger.Printf("Connection closed with error: %v", err)
	}
	return gnet.None
}

// OnTraffic is called when data is received on a connection
func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	conn, ok := c.Context().(*Connection)
	if !ok {
		s.logger.Printf("Connection context not found")
		return gnet.Close
	}

	buf, err := c.Next(-1)
	if err != nil {
		s.logger.Printf("Error reading data: %v", err)
		return gnet.Close
	}

	if err := conn.HandleData(buf); err != nil {
		s.logger.Printf("Error handling data: %v", err)
		return gnet.Close
	}
	return gnet.None
}

// Connection represents one HTTP/2 connection whose streams are aggregated
// into messages. It implements frame.Listener, answering connection-level
// frames itself and delegating stream-level events to the adapter.
type Connection struct {
	conn            gnet.Conn
	writer          *frame.Writer
	decoder         *frame.Decoder
	adapter         *h2bridge.Adapter
	handler         Handler
	logger          *log.Logger
	buffer          bytes.Buffer // raw inbound bytes
	frames          bytes.Buffer // complete frames awaiting decode
	prefaceReceived bool
	lastStreamID    uint32
	goAwaySent      bool
	cfg             Config
}

// NewConnection creates a new HTTP/2 connection bound to c.
func NewConnection(c gnet.Conn, handler Handler, cfg Config) (*Connection, error) {
	conn := &Connection{
		conn:    c,
		handler: handler,
		logger:  cfg.Logger,
		cfg:     cfg,
	}
	conn.writer = frame.NewWriter(&connWriter{conn: c})
	conn.decoder = frame.NewDecoder(&conn.frames)

	adapter, err := h2bridge.New(h2bridge.Config{
		Server:           true,
		MaxContentLength: cfg.MaxContentLength,
		ValidateHeaders:  cfg.ValidateHeaders,
		Logger:           cfg.Logger,
	}, func(msg *h2bridge.Message) {
		conn.handler.HandleMessage(conn, msg)
	})
	if err != nil {
		return nil, err
	}
	conn.adapter = adapter
	return conn, nil
}

// HandleData consumes inbound bytes, pumping every complete frame through
// the decoder into the adapter.
func (c *Connection) HandleData(data []byte) error {
	c.buffer.Write(data)

	if !c.prefaceReceived {
		if c.buffer.Len() < len(http2Preface) {
			if !bytes.HasPrefix([]byte(http2Preface), c.buffer.Bytes()) {
				return c.fatal(http2.ErrCodeProtocol, "invalid connection preface")
			}
			return nil // wait for the rest
		}
		preface := make([]byte, len(http2Preface))
		_, _ = c.buffer.Read(preface)
		if string(preface) != http2Preface {
			return c.fatal(http2.ErrCodeProtocol, "invalid connection preface")
		}
		c.prefaceReceived = true

		// Server preface
		if err := c.writer.WriteSettings(
			http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: c.cfg.MaxConcurrentStreams},
		); err != nil {
			return fmt.Errorf("failed to send server preface: %w", err)
		}
	}

	for c.buffer.Len() >= 9 {
		header := c.buffer.Bytes()[:9]
		length := int(uint32(header[0])<<16 | uint32(header[1])<<8 | uint32(header[2]))
		if c.buffer.Len() < 9+length {
			break // incomplete frame, wait for more bytes
		}
		c.frames.Write(c.buffer.Next(9 + length))

		if err := c.pump(); err != nil {
			return err
		}
	}
	return nil
}

// pump drains every dispatchable event from the decoder, isolating
// stream-level failures to their stream.
func (c *Connection) pump() error {
	for {
		err := c.decoder.Next(c)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err == nil {
			continue
		}

		var perr *h2bridge.ProtocolError
		if errors.As(err, &perr) {
			c.logger.Printf("Resetting stream %d: %v", perr.StreamID, err)
			_ = c.writer.WriteRSTStream(perr.StreamID, uint32(http2.ErrCodeProtocol))
			c.adapter.OnStreamRemoved(perr.StreamID)
			continue
		}
		var serr *h2bridge.SizeLimitError
		if errors.As(err, &serr) {
			c.logger.Printf("Resetting stream %d: %v", serr.StreamID, err)
			_ = c.writer.WriteRSTStream(serr.StreamID, uint32(http2.ErrCodeInternal))
			c.adapter.OnStreamRemoved(serr.StreamID)
			continue
		}

		// Anything else is a connection error.
		return c.fatal(http2.ErrCodeProtocol, err.Error())
	}
}

// fatal sends GOAWAY and reports the failure to the event loop, which closes
// the connection.
func (c *Connection) fatal(code http2.ErrCode, reason string) error {
	if !c.goAwaySent {
		c.goAwaySent = true
		_ = c.writer.WriteGoAway(c.lastStreamID, uint32(code), []byte(reason))
	}
	return errors.New(reason)
}

// Shutdown announces a graceful teardown to the peer.
func (c *Connection) Shutdown() error {
	if c.goAwaySent {
		return nil
	}
	c.goAwaySent = true
	return c.writer.WriteGoAway(c.lastStreamID, uint32(http2.ErrCodeNo), nil)
}

// Close releases the connection's resources.
func (c *Connection) Close() {
	c.writer.Close()
	c.buffer.Reset()
	c.frames.Reset()
}

// Writer exposes the connection's frame writer so handlers can respond.
func (c *Connection) Writer() *frame.Writer {
	return c.writer
}

// WriteResponse writes a HEADERS(+DATA) response for streamID.
func (c *Connection) WriteResponse(streamID uint32, status int, headers [][2]string, body []byte) error {
	hs := make([][2]string, 0, len(headers)+1)
	hs = append(hs, [2]string{":status", fmt.Sprintf("%d", status)})
	hs = append(hs, headers...)

	if err := c.writer.WriteHeaders(streamID, hs, nil, 0, len(body) == 0); err != nil {
		return err
	}
	if len(body) > 0 {
		return c.writer.WriteData(streamID, true, body, 0)
	}
	return nil
}

// frame.Listener implementation: connection-level frames are answered here,
// stream-level events flow into the adapter.

// OnHeaders forwards a HEADERS event to the adapter.
func (c *Connection) OnHeaders(streamID uint32, headers [][2]string, padding int, endStream bool) error {
	if streamID > c.lastStreamID {
		c.lastStreamID = streamID
	}
	return c.adapter.OnHeaders(streamID, headers, padding, endStream)
}

// OnHeadersPriority forwards a prioritized HEADERS event to the adapter.
func (c *Connection) OnHeadersPriority(streamID uint32, headers [][2]string, priority http2.PriorityParam, padding int, endStream bool) error {
	if streamID > c.lastStreamID {
		c.lastStreamID = streamID
	}
	return c.adapter.OnHeadersPriority(streamID, headers, priority, padding, endStream)
}

// OnData forwards a DATA event to the adapter.
func (c *Connection) OnData(streamID uint32, data []byte, padding int, endStream bool) error {
	return c.adapter.OnData(streamID, data, padding, endStream)
}

// OnRSTStream forwards a RST_STREAM event to the adapter.
func (c *Connection) OnRSTStream(streamID uint32, errCode uint32) error {
	return c.adapter.OnRstStream(streamID, errCode)
}

// OnPushPromise forwards a PUSH_PROMISE event to the adapter.
func (c *Connection) OnPushPromise(streamID, promisedStreamID uint32, headers [][2]string, padding int) error {
	return c.adapter.OnPushPromise(streamID, promisedStreamID, headers, padding)
}

// OnSettings acknowledges peer settings and retains them on the adapter.
func (c *Connection) OnSettings(settings []http2.Setting, ack bool) error {
	if !ack {
		if err := c.writer.WriteSettingsAck(); err != nil {
			return err
		}
	}
	return c.adapter.OnSettings(settings, ack)
}

// OnPing answers pings.
func (c *Connection) OnPing(ack bool, data [8]byte) error {
	if !ack {
		if err := c.writer.WritePing(true, data); err != nil {
			return err
		}
	}
	return c.adapter.OnPing(ack, data)
}

// OnWindowUpdate is forwarded for completeness; the aggregator ignores it.
func (c *Connection) OnWindowUpdate(streamID, increment uint32) error {
	return c.adapter.OnWindowUpdate(streamID, increment)
}

// OnPriority is forwarded for completeness; the aggregator ignores it.
func (c *Connection) OnPriority(streamID uint32, priority http2.PriorityParam) error {
	return c.adapter.OnPriority(streamID, priority)
}

// OnGoAway marks the connection as winding down.
func (c *Connection) OnGoAway(lastStreamID uint32, errCode uint32, debugData []byte) error {
	c.logger.Printf("Received GOAWAY (last stream %d, code %d)", lastStreamID, errCode)
	return c.adapter.OnGoAway(lastStreamID, errCode, debugData)
}

// connWriter adapts gnet's asynchronous write API to io.Writer for the
// frame writer.
type connWriter struct {
	conn gnet.Conn
}

// Write copies p so its lifetime spans the async send and queues it on the
// connection.
func (w *connWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data := make([]byte, len(p))
	copy(data, p)
	if err := w.conn.AsyncWrite(data, nil); err != nil {
		return 0, err
	}
	return len(p), nil
}
