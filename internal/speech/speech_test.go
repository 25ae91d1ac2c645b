package speech

import (
	"context"
	"testing"

	"alarmd/pkg/logx"
)

func TestSayDisabledIsNoop(t *testing.T) {
	t.Parallel()

	e := New(Config{}, logx.Nop())
	if err := e.Say(context.Background(), "hello"); err != nil {
		t.Fatalf("Say with empty command = %v, want nil", err)
	}
	if err := e.Say(context.Background(), "   "); err != nil {
		t.Fatalf("Say with blank text = %v, want nil", err)
	}
}

func TestSayRequiresPlaceholder(t *testing.T) {
	t.Parallel()

	e := New(Config{Command: "espeak"}, logx.Nop())
	if err := e.Say(context.Background(), "hello"); err == nil {
		t.Fatal("command without {text} placeholder should fail")
	}
}

func TestSayRunsCommand(t *testing.T) {
	t.Parallel()

	// `true` ignores its arguments and exits 0.
	e := New(Config{Command: "true {text}"}, logx.Nop())
	if err := e.Say(context.Background(), "it's alive"); err != nil {
		t.Fatalf("Say = %v", err)
	}
}

func TestShellQuote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"plain", "'plain'"},
		{"two words", "'two words'"},
		{"it's", `'it'\''s'`},
	}
	for _, tc := range tests {
		if got := shellQuote(tc.in); got != tc.want {
			t.Fatalf("shellQuote(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
