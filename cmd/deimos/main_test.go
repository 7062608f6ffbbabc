package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/withmartian/deimos-router/pkg/router"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level, format string
		want          zerolog.Level
		wantErr       bool
	}{
		{"", "", zerolog.WarnLevel, false},
		{"debug", "json", zerolog.DebugLevel, false},
		{"INFO", "console", zerolog.InfoLevel, false},
		{"loud", "", zerolog.NoLevel, true},
		{"info", "xml", zerolog.NoLevel, true},
	}
	for _, tt := range tests {
		l, err := newLogger(tt.level, tt.format)
		if tt.wantErr {
			if err == nil {
				t.Errorf("newLogger(%q, %q): expected error", tt.level, tt.format)
			}
			continue
		}
		if err != nil {
			t.Fatalf("newLogger(%q, %q): %v", tt.level, tt.format, err)
		}
		if l.GetLevel() != tt.want {
			t.Errorf("newLogger(%q, %q) level = %v, want %v", tt.level, tt.format, l.GetLevel(), tt.want)
		}
	}
}

func TestPrintTrail(t *testing.T) {
	var buf bytes.Buffer
	err := printTrail(&buf, router.Explanation{
		{RuleType: "TaskRule", RuleName: "tasks", Decision: router.LabelNoMatch},
		{RuleType: router.DefaultRuleType, RuleName: "coding", Decision: router.LabelDefault},
	})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", buf.String())
	}
	if !strings.Contains(lines[1], "tasks") || !strings.Contains(lines[1], "-") {
		t.Errorf("unexpected row %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "2") {
		t.Errorf("rows are not numbered: %q", lines[2])
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
}
