package h2bridge

import (
	"strings"
	"testing"
)

func newEmptyMessage(t MessageType) *Message {
	return &Message{
		Type:     t,
		StreamID: 1,
		Headers:  NewHeaders(),
		Trailers: NewHeaders(),
	}
}

func TestTranslate_ResponseCarriesExtensionHeaders(t *testing.T) {
	msg := newEmptyMessage(TypeResponse)
	src := [][2]string{
		{":status", "200"},
		{":authority", "example.org"},
		{":scheme", "https"},
		{":path", "/some/path"},
		{"content-type", "text/plain"},
	}
	if err := addTranslatedHeaders(3, msg, src, false, true); err != nil {
		t.Fatalf("addTranslatedHeaders() error = %v", err)
	}

	want := map[string]string{
		HeaderAuthority: "example.org",
		HeaderScheme:    "https",
		HeaderPath:      "/some/path",
		HeaderStreamID:  "3",
		"content-type":  "text/plain",
	}
	for name, value := range want {
		if got := msg.Headers.Get(name); got != value {
			t.Errorf("%s = %q, want %q", name, got, value)
		}
	}
	msg.Headers.ForEach(func(name, _ string) {
		if strings.HasPrefix(name, ":") {
			t.Errorf("pseudo-header %q leaked into translated set", name)
		}
	})
}

func TestTranslate_RequestOmitsPathExtension(t *testing.T) {
	msg := newEmptyMessage(TypeRequest)
	src := [][2]string{
		{":method", "GET"},
		{":scheme", "https"},
		{":authority", "example.org"},
		{":path", "/some/path"},
	}
	if err := addTranslatedHeaders(3, msg, src, false, true); err != nil {
		t.Fatalf("addTranslatedHeaders() error = %v", err)
	}

	// The request line carries the path; only responses get x-http2-path.
	if msg.Headers.Contains(HeaderPath) {
		t.Errorf("request header set carries %s", HeaderPath)
	}
	if got := msg.Headers.Get(HeaderAuthority); got != "example.org" {
		t.Errorf("%s = %q, want %q", HeaderAuthority, got, "example.org")
	}
	if got := msg.Headers.Get(HeaderScheme); got != "https" {
		t.Errorf("%s = %q, want %q", HeaderScheme, got, "https")
	}
}

func TestTranslate_StripsFramingHeaders(t *testing.T) {
	msg := newEmptyMessage(TypeRequest)
	src := [][2]string{
		{":method", "POST"},
		{":path", "/"},
		{"transfer-encoding", "chunked"},
		{"trailer", "checksum"},
		{"connection", "close"},
		{"content-type", "text/plain"},
	}
	if err := addTranslatedHeaders(1, msg, src, false, false); err != nil {
		t.Fatalf("addTranslatedHeaders() error = %v", err)
	}

	for _, name := range []string{"transfer-encoding", "trailer", "connection"} {
		if msg.Headers.Contains(name) {
			t.Errorf("%s survived translation", name)
		}
	}
	if got := msg.Headers.Get("content-type"); got != "text/plain" {
		t.Errorf("content-type = %q, want %q", got, "text/plain")
	}
}

func TestTranslate_TrailersGetNoStreamMarker(t *testing.T) {
	msg := newEmptyMessage(TypeRequest)
	src := [][2]string{{"checksum", "abc"}}
	if err := addTranslatedHeaders(1, msg, src, true, false); err != nil {
		t.Fatalf("addTranslatedHeaders() error = %v", err)
	}
	if msg.Trailers.Contains(HeaderStreamID) {
		t.Errorf("trailers carry %s", HeaderStreamID)
	}
	if got := msg.Trailers.Get("checksum"); got != "abc" {
		t.Errorf("checksum = %q, want %q", got, "abc")
	}
}

func TestTranslate_UnknownPseudoHeaderFails(t *testing.T) {
	msg := newEmptyMessage(TypeRequest)
	err := addTranslatedHeaders(1, msg, [][2]string{{":unknown", "x"}}, false, false)
	if err == nil {
		t.Fatal("expected error for untranslatable pseudo-header")
	}
}

func TestTranslate_DuplicateHeadersPreserved(t *testing.T) {
	msg := newEmptyMessage(TypeRequest)
	src := [][2]string{
		{":method", "GET"},
		{":path", "/"},
		{"set-cookie", "a=1"},
		{"set-cookie", "b=2"},
	}
	if err := addTranslatedHeaders(1, msg, src, false, false); err != nil {
		t.Fatalf("addTranslatedHeaders() error = %v", err)
	}
	values := msg.Headers.Values("set-cookie")
	if len(values) != 2 || values[0] != "a=1" || values[1] != "b=2" {
		t.Errorf("set-cookie values = %v, want [a=1 b=2]", values)
	}
}
