package h2bridge

import (
	"bytes"
	"compress/gzip"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
)

// DecompressConfig holds configuration for the decompression delivery
// decorator.
type DecompressConfig struct {
	// MaxInflatedLength bounds the decompressed body size (default: 4 MB)
	MaxInflatedLength int
}

// DefaultDecompressConfig returns a DecompressConfig with sensible defaults.
func DefaultDecompressConfig() DecompressConfig {
	return DecompressConfig{MaxInflatedLength: 4 << 20}
}

// DecompressDelivery wraps next so gzip- and brotli-encoded message bodies
// are inflated before delivery, using default configuration.
func DecompressDelivery(next DeliverFunc) DeliverFunc {
	return DecompressDeliveryWithConfig(DefaultDecompressConfig(), next)
}

// DecompressDeliveryWithConfig wraps next so gzip- and brotli-encoded
// message bodies are inflated before delivery. The content-encoding header
// is removed and content-length rewritten on success; on decode failure or
// when the inflated body would exceed the configured bound, the message is
// delivered unchanged.
func DecompressDeliveryWithConfig(config DecompressConfig, next DeliverFunc) DeliverFunc {
	if config.MaxInflatedLength <= 0 {
		config.MaxInflatedLength = 4 << 20
	}

	return func(msg *Message) {
		encoding := strings.ToLower(strings.TrimSpace(msg.Headers.Get("content-encoding")))

		var reader io.Reader
		switch encoding {
		case "gzip", "x-gzip":
			gz, err := gzip.NewReader(bytes.NewReader(msg.Body.Bytes()))
			if err != nil {
				next(msg)
				return
			}
			reader = gz
		case "br":
			reader = brotli.NewReader(bytes.NewReader(msg.Body.Bytes()))
		default:
			next(msg)
			return
		}

		var inflated bytes.Buffer
		n, err := io.Copy(&inflated, io.LimitReader(reader, int64(config.MaxInflatedLength)+1))
		if err != nil || n > int64(config.MaxInflatedLength) {
			next(msg)
			return
		}

		msg.Body.Reset()
		msg.Body.Write(inflated.Bytes())
		msg.Headers.Del("content-encoding")
		msg.Headers.Set("content-length", strconv.Itoa(msg.Body.Len()))
		next(msg)
	}
}
