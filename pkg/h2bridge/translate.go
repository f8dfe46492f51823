package h2bridge

import "strconv"

// pseudoHeaderMarker prefixes HTTP/2 pseudo-header names. Names carrying it
// are only valid in the HTTP/2 namespace.
const pseudoHeaderMarker = ':'

// Extension header names carrying HTTP/2-only attributes through the
// HTTP/1.x namespace.
const (
	HeaderStreamID        = "x-http2-stream-id"
	HeaderAuthority       = "x-http2-authority"
	HeaderScheme          = "x-http2-scheme"
	HeaderPath            = "x-http2-path"
	HeaderStreamPromiseID = "x-http2-stream-promise-id"
)

// pseudoHeaders is the full exclusion set: pseudo-headers without a
// translation never reach the HTTP/1.x header set.
var pseudoHeaders = map[string]bool{
	":method":    true,
	":scheme":    true,
	":authority": true,
	":path":      true,
	":status":    true,
}

// requestTranslations maps pseudo-header names to extension header names for
// request-bound header sets. The request line already carries the path, so
// :path is not translated here.
var requestTranslations = map[string]string{
	":authority": HeaderAuthority,
	":scheme":    HeaderScheme,
}

// responseTranslations additionally carries :path; a response status line
// has nowhere else to put it. The asymmetry with requestTranslations is a
// fixed contract.
var responseTranslations = map[string]string{
	":authority": HeaderAuthority,
	":scheme":    HeaderScheme,
	":path":      HeaderPath,
}

func translationsFor(t MessageType) map[string]string {
	if t == TypeRequest {
		return requestTranslations
	}
	return responseTranslations
}

// translateHeaders translates HTTP/2 headers into dst, returning the first
// failure encountered. Pseudo-headers with a translation are renamed, other
// pseudo-headers are dropped, and everything else is copied unchanged.
func translateHeaders(streamID uint32, dst *Headers, src [][2]string, translations map[string]string) error {
	for _, h := range src {
		name, value := h[0], h[1]
		translated, ok := translations[name]
		if !ok {
			if pseudoHeaders[name] {
				continue
			}
			translated = name
		}
		// Names that still carry the marker after translation have no
		// HTTP/1.x meaning; RFC 7540 §8.1.2.1.
		if translated == "" || translated[0] == pseudoHeaderMarker {
			return protocolErrorf(streamID, "unknown HTTP/2 header %q encountered in translation to HTTP/1.x", translated)
		}
		dst.Add(translated, value)
	}
	return nil
}

// addTranslatedHeaders translates src into msg's initial headers or
// trailers and applies the post-translation fixups: hop-by-hop framing
// headers are dropped, and initial header sets get the stream-id marker and
// forced persistent-connection semantics.
func addTranslatedHeaders(streamID uint32, msg *Message, src [][2]string, toTrailer bool, validate bool) error {
	dst := msg.Headers
	if toTrailer {
		dst = msg.Trailers
	}

	if err := translateHeaders(streamID, dst, src, translationsFor(msg.Type)); err != nil {
		return err
	}
	if validate {
		if err := validateHeaderSet(streamID, dst); err != nil {
			return err
		}
	}

	// Meaningless once the message is reframed as HTTP/1.x.
	dst.Del("transfer-encoding")
	dst.Del("trailer")
	if !toTrailer {
		dst.Set(HeaderStreamID, strconv.FormatUint(uint64(streamID), 10))
		// HTTP/2 has no per-message connection teardown; HTTP/1.1 defaults
		// to persistent connections once no connection header is present.
		dst.Del("connection")
	}
	return nil
}
