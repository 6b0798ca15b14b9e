// Package app wires the gateway components together.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"orion-gateway/internal/auth"
	"orion-gateway/internal/bulk"
	"orion-gateway/internal/event"
	"orion-gateway/internal/infra/config"
	"orion-gateway/internal/infra/logger"
	"orion-gateway/internal/ingest"
	"orion-gateway/internal/media"
	"orion-gateway/internal/protocol"
	"orion-gateway/internal/session"
	"orion-gateway/internal/store"
	"orion-gateway/internal/webhook"
)

// App is the main application orchestrator.
type App struct {
	Config   *config.Config
	Log      *logger.Logger
	Store    *store.Store
	Pipeline *ingest.Pipeline
	Webhooks *webhook.Dispatcher
	Media    *media.Service
	Registry *session.Registry
	Bulk     *bulk.Manager

	shutdownOnce sync.Once
}

// RunOptions selects what Run does with a single session besides resuming
// every persisted one.
type RunOptions struct {
	SessionID string
	Owner     string
	Webhook   string
	Events    []string
	QRFile    string
	Logout    bool

	// SendTo and Text submit one bulk job once the session is connected.
	// A zero Delay selects the configured default.
	SendTo []string
	Text   string
	Delay  time.Duration

	Out io.Writer
}

// New creates a new App instance. factory may be nil to use whatsmeow.
func New(ctx context.Context, cfg *config.Config, factory protocol.Factory) (*App, error) {
	log := logger.New("orion", cfg.LogLevel)
	log.Infof("Initializing Orion Gateway...")

	if err := cfg.EnsureStorePath(); err != nil {
		return nil, fmt.Errorf("failed to ensure store path: %w", err)
	}

	st, err := store.New(ctx, cfg.DatabasePath(), store.Options{
		PoolSize:       cfg.Store.PoolSize,
		AcquireTimeout: cfg.Store.AcquireTimeout,
		BusyTimeout:    cfg.Store.BusyTimeout,
		RetryAttempts:  cfg.Store.RetryAttempts,
		RetryBase:      cfg.Store.RetryBase,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if factory == nil {
		factory = protocol.NewWhatsmeowFactory(st, cfg.DeviceName)
	}

	pipeline := ingest.New(st, cfg.Ingest.MaxPayloadBytes, log)
	webhooks := webhook.New(webhook.Options{
		Attempts:     cfg.Webhook.Attempts,
		Timeout:      cfg.Webhook.Timeout,
		Backoff:      cfg.Webhook.Backoff,
		GlobalURL:    cfg.Webhook.GlobalURL,
		GlobalEvents: cfg.Webhook.GlobalEvents,
	}, log)
	mediaSvc := media.New(cfg.Media, cfg.MediaPath(), st, log)
	pipeline.SetMediaQueue(mediaSvc)

	registry := session.NewRegistry(&session.Deps{
		Store:     st,
		Pipeline:  pipeline,
		Factory:   factory,
		Webhooks:  webhooks,
		Media:     mediaSvc,
		Reconnect: cfg.Reconnect,
		QueueSize: cfg.Ingest.QueueSize,
		Log:       log,
	})

	clients := func(sessionID string) (protocol.Client, error) {
		s, err := registry.Get(sessionID)
		if err != nil {
			return nil, err
		}
		return s.Client()
	}
	mediaSvc.SetSource(func(sessionID string) (protocol.MediaDownloader, error) {
		c, err := clients(sessionID)
		if err != nil {
			return nil, err
		}
		d, ok := protocol.SupportsMedia(c)
		if !ok {
			return nil, media.ErrNoDownloader
		}
		return d, nil
	})

	jobs := bulk.New(bulk.Options{
		MaxRecipients: cfg.Bulk.MaxRecipients,
		MaxJobs:       cfg.Bulk.MaxJobs,
		DefaultDelay:  cfg.Bulk.DefaultDelay,
		TypingDelay:   cfg.Bulk.TypingDelay,
	}, clients, log)

	return &App{
		Config:   cfg,
		Log:      log,
		Store:    st,
		Pipeline: pipeline,
		Webhooks: webhooks,
		Media:    mediaSvc,
		Registry: registry,
		Bulk:     jobs,
	}, nil
}

// Run resumes persisted sessions, applies opts and blocks until ctx is done.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	a.Log.Infof("Starting Orion Gateway...")
	a.Media.Start()

	if err := a.Registry.Init(ctx); err != nil {
		return err
	}

	if opts.SessionID != "" {
		done, err := a.runSession(ctx, opts)
		if err != nil || done {
			return err
		}
	}

	a.Log.Infof("Orion Gateway is running with %d sessions. Press Ctrl+C to stop.", len(a.Registry.List()))
	<-ctx.Done()
	return nil
}

// runSession reports done when the requested action finishes the run.
func (a *App) runSession(ctx context.Context, opts RunOptions) (bool, error) {
	s, err := a.Registry.Create(ctx, opts.SessionID, opts.Owner, nil)
	if err != nil {
		return false, err
	}

	if opts.Webhook != "" {
		sub := store.WebhookSubscription{URL: opts.Webhook, Events: opts.Events}
		if err := s.AddWebhook(ctx, sub); err != nil {
			return false, err
		}
		a.Log.Infof("Webhook %s registered for session %s", opts.Webhook, s.ID())
	}

	if opts.Logout {
		if err := s.Logout(ctx); err != nil {
			return true, err
		}
		a.Log.Infof("Session %s logged out", s.ID())
		return true, nil
	}

	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	printer := auth.NewPrinter(out, opts.QRFile, a.Log)
	s.Listen(printer.Handle)

	if len(opts.SendTo) > 0 {
		var once sync.Once
		s.Listen(func(sessionID string, e event.Event) {
			if _, ok := e.(event.Connected); !ok {
				return
			}
			once.Do(func() { go a.submitJob(ctx, sessionID, opts, out) })
		})
	}

	if err := s.Connect(ctx); err != nil && !errors.Is(err, session.ErrConnectInFlight) {
		a.Log.Warnf("Connect of %s failed, reconnecting in background: %v", s.ID(), err)
	}
	return false, nil
}

func (a *App) submitJob(ctx context.Context, sessionID string, opts RunOptions, out io.Writer) {
	delay := opts.Delay
	if delay == 0 {
		delay = bulk.UseDefaultDelay
	}
	id, err := a.Bulk.Submit(ctx, sessionID, opts.SendTo, protocol.Payload{Text: opts.Text}, delay)
	if err != nil {
		a.Log.Errorf("Bulk job rejected: %v", err)
		return
	}
	a.Bulk.Wait()

	job, err := a.Bulk.Status(id)
	if err != nil {
		a.Log.Errorf("Bulk job %s: %v", id, err)
		return
	}
	data, _ := json.MarshalIndent(job, "", "  ")
	fmt.Fprintln(out, string(data))
}

// Shutdown stops every component. Sessions are disconnected, not logged out.
func (a *App) Shutdown() error {
	var err error
	a.shutdownOnce.Do(func() {
		a.Log.Infof("Shutting down...")
		a.Registry.Close()
		a.Media.Stop()
		a.Webhooks.Wait()
		a.Bulk.Wait()
		err = a.Store.Close()
	})
	return err
}
