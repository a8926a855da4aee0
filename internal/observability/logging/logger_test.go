package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInit_Level(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		Init(Config{Level: tt.level, Format: "json"})
		if got := zerolog.GlobalLevel(); got != tt.want {
			t.Errorf("level %q: expected %v, got %v", tt.level, tt.want, got)
		}
	}
	Init(DefaultConfig())
}

func TestWithCall_Fields(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	tests := []struct {
		name       string
		externalID string
		wantExt    bool
	}{
		{"before creation", "", false},
		{"after creation", "ext-1", true},
	}

	for _, tt := range tests {
		buf.Reset()
		l := WithCall("sess-1", tt.externalID)
		l.Info().Msg("hello")

		var fields map[string]any
		if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
			t.Fatalf("%s: decode: %v", tt.name, err)
		}
		if fields["sessionId"] != "sess-1" {
			t.Errorf("%s: expected sessionId sess-1, got %v", tt.name, fields["sessionId"])
		}
		if _, ok := fields["externalCallId"]; ok != tt.wantExt {
			t.Errorf("%s: expected externalCallId present=%v, got %v", tt.name, tt.wantExt, ok)
		}
	}

	buf.Reset()
	l := WithComponent("registry")
	l.Info().Msg("hi")
	if !bytes.Contains(buf.Bytes(), []byte(`"component":"registry"`)) {
		t.Errorf("expected component field, got %s", buf.String())
	}
}
