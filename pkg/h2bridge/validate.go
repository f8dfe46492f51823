package h2bridge

import "strings"

// isTokenChar reports whether c is a legal HTTP/1.x header field-name
// character per RFC 7230 §3.2.6.
func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// validateHeaderSet checks a translated header set for HTTP/1.x
// well-formedness: token-only names, no control bytes in values, and no
// connection-specific headers that have no meaning after reframing.
func validateHeaderSet(streamID uint32, h *Headers) error {
	var failed [2]string
	valid := true

	h.ForEach(func(name, value string) {
		if !valid {
			return
		}
		if name == "" {
			valid, failed = false, [2]string{name, value}
			return
		}
		for i := 0; i < len(name); i++ {
			if !isTokenChar(name[i]) {
				valid, failed = false, [2]string{name, value}
				return
			}
		}
		if strings.ContainsAny(value, "\r\n\x00") {
			valid, failed = false, [2]string{name, value}
			return
		}
		switch strings.ToLower(name) {
		case "keep-alive", "proxy-connection", "upgrade":
			valid, failed = false, [2]string{name, value}
		}
	})

	if !valid {
		return protocolErrorf(streamID, "malformed HTTP/1.x header %q", failed[0])
	}
	return nil
}
