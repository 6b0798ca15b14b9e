package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"

	"orion-gateway/internal/event"
	"orion-gateway/internal/infra/config"
	"orion-gateway/internal/protocol"
	"orion-gateway/internal/protocol/prototest"
	"orion-gateway/internal/store"
)

func newService(t *testing.T, auto bool) (*Service, *store.Store, string) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	st, err := store.New(ctx, filepath.Join(dir, "test.db"), store.Options{
		PoolSize:       2,
		AcquireTimeout: time.Second,
		RetryAttempts:  3,
		RetryBase:      10 * time.Millisecond,
	}, waLog.Noop)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	root := filepath.Join(dir, "media")
	svc := New(config.MediaConfig{
		AutoDownload:     auto,
		WorkerCount:      1,
		QueueSize:        4,
		RetryMaxAttempts: 2,
		RetryBackoff:     time.Millisecond,
	}, root, st, waLog.Noop)
	t.Cleanup(svc.Stop)
	return svc, st, root
}

func imageMessage() *event.Message {
	return &event.Message{
		Message: store.Message{SessionID: "s1", ChatID: "111@s.whatsapp.net", ID: "M1", Type: "image"},
		Media:   &event.MediaRef{Type: "image", DirectPath: "/v/t62", Mimetype: "image/jpeg"},
	}
}

func TestDownloadWritesFileAndRecordsPath(t *testing.T) {
	svc, st, root := newService(t, true)
	ctx := context.Background()

	client := prototest.New()
	client.Media = []byte("jpeg-bytes")
	svc.SetSource(func(sessionID string) (protocol.MediaDownloader, error) {
		assert.Equal(t, "s1", sessionID)
		return client, nil
	})

	msg := imageMessage()
	require.NoError(t, st.Messages.Put(ctx, st.DB(), &msg.Message))
	svc.Start()
	svc.Enqueue("s1", msg)

	want := filepath.Join(root, "s1", "111_at_s.whatsapp.net", "M1", "image", "media.jpg")
	require.Eventually(t, func() bool {
		m, err := st.Messages.Get(ctx, st.DB(), "s1", msg.ChatID, "M1")
		return err == nil && m.MediaPath == want
	}, 3*time.Second, 5*time.Millisecond)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	require.NoError(t, svc.Purge("s1"))
	_, err = os.Stat(filepath.Join(root, "s1"))
	assert.True(t, os.IsNotExist(err))
}

func TestEnqueueSkipsWhenDisabledOrOutbound(t *testing.T) {
	svc, _, _ := newService(t, false)
	svc.Enqueue("s1", imageMessage())
	assert.Zero(t, len(svc.queue))

	svc, _, _ = newService(t, true)
	own := imageMessage()
	own.FromMe = true
	svc.Enqueue("s1", own)
	svc.Enqueue("s1", &event.Message{Message: store.Message{ID: "text"}})
	assert.Zero(t, len(svc.queue))

	svc.Enqueue("s1", imageMessage())
	assert.Equal(t, 1, len(svc.queue))
}

func TestBuildFilename(t *testing.T) {
	assert.Equal(t, "media.ogg", buildFilename(event.MediaRef{Mimetype: "audio/ogg; codecs=opus"}))
	assert.Equal(t, "report.pdf", buildFilename(event.MediaRef{Filename: "report", Mimetype: "application/pdf"}))
	assert.Equal(t, "passwd", buildFilename(event.MediaRef{Filename: "../../etc/passwd"}))
	assert.Equal(t, "a_b.txt", buildFilename(event.MediaRef{Filename: "a:b.txt"}))
	assert.Equal(t, "media", buildFilename(event.MediaRef{Mimetype: "application/x-unknown"}))
}
