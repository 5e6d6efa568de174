package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_Levels(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
	}
	for level, want := range cases {
		if got := New(level, false).GetLevel(); got != want {
			t.Errorf("New(%q) level = %v, want %v", level, got, want)
		}
	}
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	for _, level := range []string{"", "verbose", "LOUD"} {
		if got := New(level, false).GetLevel(); got != zerolog.InfoLevel {
			t.Errorf("New(%q) level = %v, want info", level, got)
		}
	}
}
