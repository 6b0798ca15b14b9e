// Package webhook relays session events to external HTTP subscribers.
//
// Delivery is at-least-once with a bounded number of attempts per
// subscriber. Subscribers are independent: a slow or failing endpoint never
// delays another.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"orion-gateway/internal/event"
	"orion-gateway/internal/store"
	"orion-gateway/internal/utils/retry"
)

// Source is sent in the X-Webhook-Source header.
const Source = "orion-gateway"

// Options is the delivery policy applied to every subscriber.
type Options struct {
	Attempts int
	Timeout  time.Duration
	Backoff  time.Duration

	// GlobalURL receives the events in GlobalEvents (all when empty) from every session.
	GlobalURL    string
	GlobalEvents []string

	// HTTPClient defaults to a plain client; Timeout bounds each attempt.
	HTTPClient *http.Client
}

// Target is the session an event belongs to and its subscriptions.
type Target struct {
	SessionID     string
	Metadata      map[string]string
	Subscriptions []store.WebhookSubscription
}

// Payload is the JSON body posted to subscribers.
type Payload struct {
	Event     event.Name        `json:"event"`
	SessionID string            `json:"sessionId"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Data      any               `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}

// Failure is one subscriber whose attempts were exhausted.
type Failure struct {
	URL      string `json:"url"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// Result reports the outcome of one fan-out.
type Result struct {
	Delivered []string  `json:"delivered"`
	Failed    []Failure `json:"failed"`
}

// Dispatcher posts events to subscribers.
type Dispatcher struct {
	opts   Options
	client *http.Client
	log    waLog.Logger
	wg     sync.WaitGroup
}

// New creates a Dispatcher. Zero option values fall back to 3 attempts, a
// 10s timeout and a 1s initial backoff.
func New(opts Options, log waLog.Logger) *Dispatcher {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{
		opts:   opts,
		client: client,
		log:    log.Sub("Webhook"),
	}
}

// Send delivers e to every matching subscriber in the background.
func (d *Dispatcher) Send(t Target, e event.Event) {
	subs := d.subscribers(t, e.EventName())
	if len(subs) == 0 {
		return
	}
	body, err := d.encode(t, e)
	if err != nil {
		d.log.Errorf("Failed to encode %s for session %s: %v", e.EventName(), t.SessionID, err)
		return
	}
	for _, url := range subs {
		d.wg.Add(1)
		go func(url string) {
			defer d.wg.Done()
			d.post(context.Background(), t.SessionID, e.EventName(), url, body)
		}(url)
	}
}

// Deliver delivers e to every matching subscriber and waits for the outcome.
func (d *Dispatcher) Deliver(ctx context.Context, t Target, e event.Event) (Result, error) {
	var res Result
	subs := d.subscribers(t, e.EventName())
	if len(subs) == 0 {
		return res, nil
	}
	body, err := d.encode(t, e)
	if err != nil {
		return res, fmt.Errorf("encode %s: %w", e.EventName(), err)
	}

	failures := make([]*Failure, len(subs))
	var wg sync.WaitGroup
	for i, url := range subs {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			failures[i] = d.post(ctx, t.SessionID, e.EventName(), url, body)
		}(i, url)
	}
	wg.Wait()

	for i, url := range subs {
		if failures[i] == nil {
			res.Delivered = append(res.Delivered, url)
		} else {
			res.Failed = append(res.Failed, *failures[i])
		}
	}
	return res, nil
}

// Wait blocks until every background delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) subscribers(t Target, name event.Name) []string {
	var urls []string
	seen := make(map[string]struct{})
	add := func(url string, filter []string) {
		if url == "" || !Matches(filter, name) {
			return
		}
		if _, ok := seen[url]; ok {
			return
		}
		seen[url] = struct{}{}
		urls = append(urls, url)
	}

	for _, s := range t.Subscriptions {
		add(s.URL, s.Events)
	}
	if d.opts.GlobalURL != "" {
		filter := d.opts.GlobalEvents
		if len(filter) == 0 {
			filter = []string{string(event.NameAll)}
		}
		add(d.opts.GlobalURL, filter)
	}
	return urls
}

// Matches reports whether a subscription filter selects name.
func Matches(filter []string, name event.Name) bool {
	for _, f := range filter {
		if f == string(name) || f == string(event.NameAll) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) encode(t Target, e event.Event) ([]byte, error) {
	return json.Marshal(Payload{
		Event:     e.EventName(),
		SessionID: t.SessionID,
		Metadata:  t.Metadata,
		Data:      e,
		Timestamp: time.Now().UTC(),
	})
}

func (d *Dispatcher) post(ctx context.Context, sessionID string, name event.Name, url string, body []byte) *Failure {
	attempts := 0
	policy := retry.Policy{
		MaxAttempts: d.opts.Attempts,
		Backoff:     retry.ExponentialBackoff(d.opts.Backoff, 0),
		OnRetry: func(attempt int, wait time.Duration, err error) {
			d.log.Warnf("Delivery of %s to %s failed (attempt %d/%d), retrying in %v: %v",
				name, url, attempt, d.opts.Attempts, wait, err)
		},
	}

	err := policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		return d.attempt(ctx, sessionID, name, url, body)
	})
	if err != nil {
		d.log.Errorf("Giving up on %s to %s after %d attempts: %v", name, url, attempts, err)
		return &Failure{URL: url, Attempts: attempts, Error: err.Error()}
	}
	d.log.Debugf("Delivered %s for session %s to %s", name, sessionID, url)
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, sessionID string, name event.Name, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Source", Source)
	req.Header.Set("X-Session-Id", sessionID)
	req.Header.Set("X-Event-Name", string(name))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// ============================================================================
// Subscription lists
// ============================================================================

// Upsert adds sub, replacing the filter of an existing subscription with the same URL.
func Upsert(subs []store.WebhookSubscription, sub store.WebhookSubscription) []store.WebhookSubscription {
	out := make([]store.WebhookSubscription, 0, len(subs)+1)
	replaced := false
	for _, s := range subs {
		if s.URL == sub.URL {
			out = append(out, sub)
			replaced = true
			continue
		}
		out = append(out, s)
	}
	if !replaced {
		out = append(out, sub)
	}
	return out
}

// Remove deletes the subscription with url and reports whether one existed.
func Remove(subs []store.WebhookSubscription, url string) ([]store.WebhookSubscription, bool) {
	out := make([]store.WebhookSubscription, 0, len(subs))
	found := false
	for _, s := range subs {
		if s.URL == url {
			found = true
			continue
		}
		out = append(out, s)
	}
	return out, found
}
