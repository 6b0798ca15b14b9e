// Package bulk runs fan-out sends as background jobs.
//
// A job sends one payload to each recipient in order, pausing between
// sends, and records a per-recipient outcome. Jobs are kept in memory and
// are never retried automatically.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"orion-gateway/internal/protocol"
	"orion-gateway/internal/utils/jid"
	"orion-gateway/internal/utils/retry"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

var (
	// ErrJobNotFound is returned for unknown or evicted job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrEmptyPayload rejects jobs with nothing to send.
	ErrEmptyPayload = errors.New("payload text is empty")
)

// Detail is the outcome of one recipient.
type Detail struct {
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Job is a snapshot of a bulk job.
type Job struct {
	ID          string     `json:"jobId"`
	SessionID   string     `json:"sessionId"`
	Status      Status     `json:"status"`
	Total       int        `json:"total"`
	Sent        int        `json:"sent"`
	Failed      int        `json:"failed"`
	Progress    int        `json:"progress"`
	Details     []Detail   `json:"details"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (j *Job) clone() Job {
	out := *j
	out.Details = append([]Detail{}, j.Details...)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Clients returns the live client of a session. protocol.ErrNotConnected
// fails the current recipient; any other error at submit time rejects the job.
type Clients func(sessionID string) (protocol.Client, error)

// Options limits jobs.
type Options struct {
	MaxRecipients int
	MaxJobs       int
	DefaultDelay  time.Duration
	// TypingDelay > 0 shows a typing indicator for that long before each send.
	TypingDelay time.Duration
}

// Manager owns bulk jobs.
type Manager struct {
	opts    Options
	clients Clients
	log     waLog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	jobs  map[string]*Job
	order []string
	wg    sync.WaitGroup
}

// New creates a Manager. Zero options select 100 recipients, 150 retained
// jobs and a 3s delay.
func New(opts Options, clients Clients, log waLog.Logger) *Manager {
	if opts.MaxRecipients <= 0 {
		opts.MaxRecipients = 100
	}
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = 150
	}
	if opts.DefaultDelay <= 0 {
		opts.DefaultDelay = 3 * time.Second
	}
	return &Manager{
		opts:    opts,
		clients: clients,
		log:     log.Sub("Bulk"),
		sleep:   retry.Sleep,
		jobs:    make(map[string]*Job),
	}
}

// UseDefaultDelay asks Submit for the configured default delay.
const UseDefaultDelay time.Duration = -1

// Submit validates the request, queues a job and returns its id. Sending
// happens in the background. A negative delay selects the default delay and
// zero sends without pausing.
func (m *Manager) Submit(ctx context.Context, sessionID string, recipients []string, payload protocol.Payload, delay time.Duration) (string, error) {
	if len(recipients) == 0 {
		return "", jid.Invalid(jid.CodeEmptyRecipient, "recipient list is empty")
	}
	if len(recipients) > m.opts.MaxRecipients {
		return "", jid.Invalid(jid.CodeTooManyRecipients,
			fmt.Sprintf("%d recipients exceed the limit of %d", len(recipients), m.opts.MaxRecipients))
	}
	if payload.Text == "" {
		return "", ErrEmptyPayload
	}

	targets := make([]types.JID, 0, len(recipients))
	for i, raw := range recipients {
		to, err := jid.ParseRecipient(raw)
		if err != nil {
			return "", fmt.Errorf("recipient %d: %w", i, err)
		}
		targets = append(targets, to)
	}

	if _, err := m.clients(sessionID); err != nil && !errors.Is(err, protocol.ErrNotConnected) {
		return "", err
	}
	if delay < 0 {
		delay = m.opts.DefaultDelay
	}

	job := &Job{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Status:    StatusQueued,
		Total:     len(targets),
		Details:   make([]Detail, 0, len(targets)),
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	m.evictLocked()
	m.mu.Unlock()

	m.log.Infof("Queued job %s for session %s (%d recipients)", job.ID, sessionID, len(targets))
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(job, targets, payload, delay)
	}()
	return job.ID, nil
}

// Status returns a snapshot of a job.
func (m *Manager) Status(jobID string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return j.clone(), nil
}

// List returns the jobs of a session, newest first. An empty sessionID lists every job.
func (m *Manager) List(sessionID string) []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		j := m.jobs[m.order[i]]
		if sessionID == "" || j.SessionID == sessionID {
			out = append(out, j.clone())
		}
	}
	return out
}

// Wait blocks until every running job has completed.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) run(job *Job, targets []types.JID, payload protocol.Payload, delay time.Duration) {
	ctx := context.Background()
	m.update(job, func(j *Job) { j.Status = StatusProcessing })

	var sent, failed int
	for i, to := range targets {
		d := m.sendOne(ctx, job.SessionID, to, payload)
		last := i == len(targets)-1
		m.update(job, func(j *Job) {
			j.Details = append(j.Details, d)
			if d.Success {
				j.Sent++
			} else {
				j.Failed++
			}
			j.Progress = (j.Sent + j.Failed) * 100 / j.Total
			// Progress reaches 100 together with the completed status.
			if last {
				now := time.Now()
				j.Status = StatusCompleted
				j.CompletedAt = &now
				sent, failed = j.Sent, j.Failed
				m.evictLocked()
			}
		})
		if !last && delay > 0 {
			_ = m.sleep(ctx, delay)
		}
	}

	m.log.Infof("Job %s completed: %d sent, %d failed", job.ID, sent, failed)
}

func (m *Manager) sendOne(ctx context.Context, sessionID string, to types.JID, payload protocol.Payload) Detail {
	d := Detail{Recipient: to.String()}

	client, err := m.clients(sessionID)
	if err != nil {
		d.Message = err.Error()
		return d
	}

	if m.opts.TypingDelay > 0 {
		if ps, ok := protocol.SupportsPresence(client); ok {
			if err := ps.SendTyping(ctx, to, true); err != nil {
				m.log.Debugf("Typing indicator to %s failed: %v", to, err)
			}
			_ = m.sleep(ctx, m.opts.TypingDelay)
			defer func() {
				if err := ps.SendTyping(ctx, to, false); err != nil {
					m.log.Debugf("Clearing typing indicator to %s failed: %v", to, err)
				}
			}()
		}
	}

	res, err := client.Send(ctx, to, payload)
	if err != nil {
		m.log.Warnf("Send to %s failed: %v", to, err)
		d.Message = err.Error()
		return d
	}
	d.Success = true
	d.MessageID = res.MessageID
	return d
}

func (m *Manager) update(job *Job, fn func(*Job)) {
	m.mu.Lock()
	fn(job)
	m.mu.Unlock()
}

// evictLocked drops the oldest completed jobs while more than MaxJobs are kept.
func (m *Manager) evictLocked() {
	excess := len(m.order) - m.opts.MaxJobs
	if excess <= 0 {
		return
	}

	completed := make([]string, 0, len(m.order))
	for _, id := range m.order {
		if m.jobs[id].Status == StatusCompleted {
			completed = append(completed, id)
		}
	}
	sort.SliceStable(completed, func(i, k int) bool {
		return m.jobs[completed[i]].CreatedAt.Before(m.jobs[completed[k]].CreatedAt)
	})
	if excess > len(completed) {
		excess = len(completed)
	}

	drop := make(map[string]struct{}, excess)
	for _, id := range completed[:excess] {
		drop[id] = struct{}{}
		delete(m.jobs, id)
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	m.order = kept
}
