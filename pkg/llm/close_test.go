package llm

import (
	"net/http"
	"sync/atomic"
	"testing"
)

type testTransport struct{ called int32 }

func (t *testTransport) RoundTrip(req *http.Request) (*http.Response, error) { panic("not used") }
func (t *testTransport) CloseIdleConnections()                               { atomic.StoreInt32(&t.called, 1) }

func TestOllamaClient_Close_IdempotentAndCallsTransport(t *testing.T) {
	tr := &testTransport{}
	client := &http.Client{Transport: tr}
	cfg := DefaultOllamaConfig()
	c, err := NewOllamaClient(cfg, client)
	if err != nil {
		t.Fatalf("NewOllamaClient: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if atomic.LoadInt32(&tr.called) != 1 {
		t.Fatalf("expected CloseIdleConnections called once")
	}

	// second call should be a no-op
	if err := c.Close(); err != nil {
		t.Fatalf("Close second call error: %v", err)
	}
}

func TestBuildTranscript(t *testing.T) {
	got := buildTranscript([]Message{
		{Role: RoleUser, Content: "add sso"},
		{Role: RoleAssistant, Content: "done"},
		{Role: RoleUser, Content: "what changed?"},
	})
	want := "User: add sso\n\nAssistant: done\n\nUser: what changed?\n\nAssistant:"
	if got != want {
		t.Fatalf("transcript = %q, want %q", got, want)
	}

	// a single user turn passes through untouched
	if got := buildTranscript([]Message{{Role: RoleUser, Content: "estimate"}}); got != "estimate" {
		t.Fatalf("single turn = %q", got)
	}
}
