package notify

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLog(log.New(&buf, "", 0))

	userID := uuid.New()
	if err := n.Notify(t.Context(), userID, "session_started", map[string]any{"kind": "trivia"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, userID.String()) || !strings.Contains(out, "session_started") {
		t.Fatalf("log output %q missing user or event kind", out)
	}
}

func TestNewBusRequiresBus(t *testing.T) {
	if _, err := NewBus(nil); err == nil {
		t.Fatal("NewBus(nil) should fail")
	}
}
