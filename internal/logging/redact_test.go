package logging

import (
	"log/slog"
	"testing"
)

func TestShouldRedactKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{key: "request_json", want: true},
		{key: "Stdin", want: true},
		{key: "code_snapshot", want: true},
		{key: "authorization", want: true},
		{key: "api_token", want: true},
		{key: "password", want: true},
		{key: "snapshot_hash", want: false},
		{key: "run_id", want: false},
		{key: "language", want: false},
	}

	for _, tt := range tests {
		if got := shouldRedactKey(tt.key); got != tt.want {
			t.Fatalf("expected shouldRedactKey(%q)=%v, got %v", tt.key, tt.want, got)
		}
	}
}

func TestRedactAttrGroups(t *testing.T) {
	attr := slog.Group("run", slog.String("stdin", "secret input"), slog.String("language", "python"))
	redacted := redactAttr(attr)

	group := redacted.Value.Group()
	if len(group) != 2 {
		t.Fatalf("expected 2 group attrs, got %d", len(group))
	}

	if group[0].Value.String() != redactedValue {
		t.Fatalf("expected stdin to be redacted, got %q", group[0].Value.String())
	}
	if group[1].Value.String() != "python" {
		t.Fatalf("expected language to stay, got %q", group[1].Value.String())
	}
}
