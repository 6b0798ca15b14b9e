// Package media downloads inbound message media to the local filesystem.
//
// Service runs a bounded queue drained by a worker pool. Each download is
// retried with exponential backoff; when it succeeds the file path is
// recorded on the message row. Files live under
// {root}/{session}/{chat}/{message}/{type}/{filename} so a session's media
// can be removed with one directory delete.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"orion-gateway/internal/event"
	"orion-gateway/internal/infra/config"
	"orion-gateway/internal/protocol"
	"orion-gateway/internal/store"
	"orion-gateway/internal/utils/retry"
)

const maxRetryWait = 30 * time.Second

// Source returns the media downloader of a session's live client.
type Source func(sessionID string) (protocol.MediaDownloader, error)

// ErrNoDownloader is returned by a Source when the session cannot download.
var ErrNoDownloader = errors.New("session has no media downloader")

type job struct {
	sessionID string
	chatID    string
	messageID string
	ref       event.MediaRef
}

// Service handles automatic media downloading.
type Service struct {
	cfg    config.MediaConfig
	root   string
	store  *store.Store
	source Source
	log    waLog.Logger

	queue    chan job
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	// files guards session directories against a purge racing a write.
	files sync.RWMutex
}

// New creates a Service storing files below root.
func New(cfg config.MediaConfig, root string, st *store.Store, log waLog.Logger) *Service {
	size := cfg.QueueSize
	if size <= 0 {
		size = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:    cfg,
		root:   root,
		store:  st,
		log:    log.Sub("Media"),
		queue:  make(chan job, size),
		stopCh: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetSource sets where downloaders come from. It must be called before Start.
func (s *Service) SetSource(src Source) {
	s.source = src
}

// Start starts the download workers.
func (s *Service) Start() {
	if !s.cfg.AutoDownload {
		s.log.Infof("Media auto-download is disabled")
		return
	}

	workers := s.cfg.WorkerCount
	if workers <= 0 {
		workers = 3
	}
	s.log.Infof("Starting %d download workers", workers)
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop stops the workers. Queued downloads are abandoned.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.cancel()
		s.wg.Wait()
		s.log.Infof("Media service stopped")
	})
}

// Enqueue queues the media of an inbound message. It never blocks; a full
// queue drops the download.
func (s *Service) Enqueue(sessionID string, m *event.Message) {
	if !s.cfg.AutoDownload || m == nil || m.Media == nil || m.FromMe {
		return
	}

	select {
	case s.queue <- job{sessionID: sessionID, chatID: m.ChatID, messageID: m.ID, ref: *m.Media}:
	default:
		s.log.Warnf("Download queue full, dropping media %s", m.ID)
	}
}

// Purge deletes every downloaded file of a session.
func (s *Service) Purge(sessionID string) error {
	s.files.Lock()
	defer s.files.Unlock()
	if err := os.RemoveAll(s.SessionDir(sessionID)); err != nil {
		return fmt.Errorf("remove media of %s: %w", sessionID, err)
	}
	return nil
}

// SessionDir is the directory holding a session's media.
func (s *Service) SessionDir(sessionID string) string {
	return filepath.Join(s.root, sanitizeJID(sessionID))
}

func (s *Service) path(j job) string {
	return filepath.Join(
		s.SessionDir(j.sessionID),
		sanitizeJID(j.chatID),
		sanitizeFilename(j.messageID),
		j.ref.Type,
		buildFilename(j.ref),
	)
}

func (s *Service) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case j := <-s.queue:
			s.downloadWithRetry(j)
		}
	}
}

func (s *Service) downloadWithRetry(j job) {
	policy := retry.Policy{
		MaxAttempts: s.cfg.RetryMaxAttempts,
		Backoff:     retry.ExponentialBackoff(s.cfg.RetryBackoff, maxRetryWait),
		Retryable: func(err error) bool {
			return !errors.Is(err, ErrNoDownloader)
		},
		OnRetry: func(attempt int, wait time.Duration, err error) {
			s.log.Debugf("Download of %s failed (attempt %d): %v, retrying in %v", j.messageID, attempt, err, wait)
		},
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}

	if err := policy.Do(s.ctx, func(ctx context.Context) error { return s.download(ctx, j) }); err != nil {
		s.log.Errorf("Failed to download media %s: %v", j.messageID, err)
	}
}

func (s *Service) download(ctx context.Context, j job) error {
	if s.source == nil {
		return ErrNoDownloader
	}
	d, err := s.source(j.sessionID)
	if err != nil {
		return err
	}

	data, err := d.Download(ctx, &j.ref)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	filePath := s.path(j)
	if err := s.write(filePath, data); err != nil {
		return err
	}
	s.log.Infof("Downloaded media: %s (%d bytes)", filePath, len(data))

	if err := s.store.Messages.SetMediaPath(ctx, j.sessionID, j.chatID, j.messageID, filePath); err != nil {
		s.log.Warnf("Failed to record media path of %s: %v", j.messageID, err)
	}
	return nil
}

func (s *Service) write(filePath string, data []byte) error {
	s.files.RLock()
	defer s.files.RUnlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
