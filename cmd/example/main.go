// Command example runs an HTTP/2 aggregation server that logs every
// assembled request and answers with a small acknowledgment.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/albertbausili/h2bridge/internal/h2/transport"
	"github.com/albertbausili/h2bridge/pkg/h2bridge"
)

// fileConfig mirrors the transport options that make sense in a config file.
type fileConfig struct {
	Addr                 string `toml:"addr"`
	Multicore            bool   `toml:"multicore"`
	NumEventLoop         int    `toml:"num_event_loop"`
	ReusePort            bool   `toml:"reuse_port"`
	MaxConcurrentStreams uint32 `toml:"max_concurrent_streams"`
	MaxContentLength     int    `toml:"max_content_length"`
	ValidateHeaders      bool   `toml:"validate_headers"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Addr:                 ":8443",
		Multicore:            true,
		MaxConcurrentStreams: 100,
		MaxContentLength:     1 << 20,
		ValidateHeaders:      true,
	}
}

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	addr := flag.String("addr", "", "listen address (overrides config file)")
	flag.Parse()

	logger := log.New(os.Stdout, "[h2bridge] ", log.LstdFlags)

	cfg := defaultFileConfig()
	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			logger.Fatalf("Failed to load config %s: %v", *configPath, err)
		}
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	deliver := h2bridge.DecompressDelivery(h2bridge.TraceDelivery(func(msg *h2bridge.Message) {
		logger.Printf("%s %s %s (stream %s, %d body bytes)",
			msg.Type, msg.Method, msg.Path, msg.Headers.Get(h2bridge.HeaderStreamID), msg.Body.Len())
	}))

	handler := transport.HandlerFunc(func(c *transport.Connection, msg *h2bridge.Message) {
		deliver(msg)
		streamID, err := strconv.ParseUint(msg.Headers.Get(h2bridge.HeaderStreamID), 10, 32)
		if err != nil {
			return
		}
		body := []byte("ok\n")
		_ = c.WriteResponse(uint32(streamID), 200, [][2]string{
			{"content-type", "text/plain"},
			{"content-length", strconv.Itoa(len(body))},
		}, body)
	})

	server := transport.NewServer(handler, transport.Config{
		Addr:                 cfg.Addr,
		Multicore:            cfg.Multicore,
		NumEventLoop:         cfg.NumEventLoop,
		ReusePort:            cfg.ReusePort,
		Logger:               logger,
		MaxConcurrentStreams: cfg.MaxConcurrentStreams,
		MaxContentLength:     cfg.MaxContentLength,
		ValidateHeaders:      cfg.ValidateHeaders,
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
}
