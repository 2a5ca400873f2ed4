package logging

import "testing"

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"error":   LevelError,
		"WARN":    LevelWarn,
		"":        LevelInfo,
		"debug":   LevelDebug,
		"garbage": LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestForkAppendsPrefix(t *testing.T) {
	root := New(LevelDebug)
	child := root.Fork("relay").Fork("agentsession")
	if child.prefix != "relay.agentsession" {
		t.Fatalf("expected prefix %q, got %q", "relay.agentsession", child.prefix)
	}
}

func TestLevelFiltering(t *testing.T) {
	l := New(LevelWarn)
	if l.enabled(LevelDebug) {
		t.Fatalf("debug should not be enabled at warn level")
	}
	if !l.enabled(LevelError) {
		t.Fatalf("error should be enabled at warn level")
	}
}
