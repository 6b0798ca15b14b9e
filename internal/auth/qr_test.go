package auth

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"

	"orion-gateway/internal/event"
)

func TestDataURLIsPNG(t *testing.T) {
	url, err := DataURL("2@abc,def,ghi")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestPrinterWritesTerminalArt(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, "", waLog.Noop)

	p.Handle("s1", event.QRCode{Code: "2@abc"})
	assert.NotEmpty(t, strings.TrimSpace(buf.String()))

	buf.Reset()
	p.Handle("s1", event.ChatRead{ChatID: "c"})
	assert.Empty(t, buf.String())
}
