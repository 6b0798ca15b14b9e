package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("orion", "warn", &buf, false)

	log.Debugf("debug %d", 1)
	log.Infof("info %d", 2)
	log.Warnf("warn %d", 3)
	log.Errorf("error %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "debug 1")
	assert.NotContains(t, out, "info 2")
	assert.Contains(t, out, "WRN [orion] warn 3")
	assert.Contains(t, out, "ERR [orion] error 4")
}

func TestSubSharesWriter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("orion", "debug", &buf, false)

	sub := log.Sub("Session").Sub("abc")
	sub.Infof("hello")

	assert.True(t, strings.HasSuffix(strings.TrimSpace(buf.String()), "INF [orion/Session/abc] hello"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}
