package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"orion-gateway/internal/protocol"
	"orion-gateway/internal/protocol/prototest"
	"orion-gateway/internal/utils/jid"
)

type sleeps struct {
	mu sync.Mutex
	d  []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.d = append(s.d, d)
	s.mu.Unlock()
	return nil
}

func newManager(opts Options, client protocol.Client) (*Manager, *sleeps) {
	m := New(opts, func(string) (protocol.Client, error) { return client, nil }, waLog.Noop)
	s := &sleeps{}
	m.sleep = s.sleep
	return m, s
}

var text = protocol.Payload{Text: "hello"}

func TestJobAccountsEveryRecipient(t *testing.T) {
	client := prototest.New()
	client.SendFunc = func(to types.JID, p protocol.Payload) (protocol.SendResult, error) {
		if to.User == "2222222" {
			return protocol.SendResult{}, errors.New("not on whatsapp")
		}
		return protocol.SendResult{MessageID: "MSG-" + to.User}, nil
	}
	m, s := newManager(Options{DefaultDelay: 10 * time.Millisecond}, client)

	id, err := m.Submit(context.Background(), "s1", []string{"1111111", "2222222", "3333333"}, text, UseDefaultDelay)
	require.NoError(t, err)
	m.Wait()

	job, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 3, job.Total)
	assert.Equal(t, 2, job.Sent)
	assert.Equal(t, 1, job.Failed)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.CompletedAt)

	require.Len(t, job.Details, 3)
	assert.True(t, job.Details[0].Success)
	assert.Equal(t, "MSG-1111111", job.Details[0].MessageID)
	assert.False(t, job.Details[1].Success)
	assert.Equal(t, "not on whatsapp", job.Details[1].Message)
	assert.Equal(t, "3333333@s.whatsapp.net", job.Details[2].Recipient)

	// Paced between sends, not after the last one.
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}, s.d)
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	m, _ := newManager(Options{}, prototest.New())
	ctx := context.Background()

	_, err := m.Submit(ctx, "s1", nil, text, 0)
	var ve *jid.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, jid.CodeEmptyRecipient, ve.Code)

	tooMany := make([]string, 101)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("55510%05d", i)
	}
	_, err = m.Submit(ctx, "s1", tooMany, text, 0)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, jid.CodeTooManyRecipients, ve.Code)

	_, err = m.Submit(ctx, "s1", []string{"1111111", "not-a-number"}, text, 0)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, jid.CodeMalformedRecipient, ve.Code)

	_, err = m.Submit(ctx, "s1", []string{"1111111"}, protocol.Payload{}, 0)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	assert.Empty(t, m.List(""))
}

func TestSubmitRejectsUnknownSession(t *testing.T) {
	unknown := errors.New("session not found")
	m := New(Options{}, func(string) (protocol.Client, error) { return nil, unknown }, waLog.Noop)

	_, err := m.Submit(context.Background(), "nope", []string{"1111111"}, text, 0)
	assert.ErrorIs(t, err, unknown)
}

func TestDisconnectedSessionFailsItems(t *testing.T) {
	m := New(Options{}, func(string) (protocol.Client, error) { return nil, protocol.ErrNotConnected }, waLog.Noop)
	m.sleep = (&sleeps{}).sleep

	id, err := m.Submit(context.Background(), "s1", []string{"1111111", "2222222"}, text, 0)
	require.NoError(t, err)
	m.Wait()

	job, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Failed)
	assert.Equal(t, protocol.ErrNotConnected.Error(), job.Details[0].Message)
}

func TestRetentionEvictsOldestCompleted(t *testing.T) {
	m, _ := newManager(Options{MaxJobs: 2}, prototest.New())
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := m.Submit(ctx, "s1", []string{"1111111"}, text, 0)
		require.NoError(t, err)
		m.Wait()
		ids = append(ids, id)
	}

	_, err := m.Status(ids[0])
	assert.ErrorIs(t, err, ErrJobNotFound)
	for _, id := range ids[1:] {
		_, err := m.Status(id)
		assert.NoError(t, err)
	}

	list := m.List("s1")
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Empty(t, m.List("other"))
}

func TestTypingIndicatorWrapsEachSend(t *testing.T) {
	client := prototest.New()
	m, s := newManager(Options{TypingDelay: time.Millisecond, DefaultDelay: time.Second}, client)

	_, err := m.Submit(context.Background(), "s1", []string{"1111111", "2222222"}, text, UseDefaultDelay)
	require.NoError(t, err)
	m.Wait()

	assert.Equal(t, []bool{true, false, true, false}, client.Typing())
	assert.Equal(t, []time.Duration{time.Millisecond, time.Second, time.Millisecond}, s.d)

	// Clients without presence support still send.
	plain, _ := newManager(Options{TypingDelay: time.Millisecond}, prototest.CoreOnly(client))
	id, err := plain.Submit(context.Background(), "s1", []string{"3333333"}, text, 0)
	require.NoError(t, err)
	plain.Wait()
	job, _ := plain.Status(id)
	assert.Equal(t, 1, job.Sent)
	assert.Len(t, client.Typing(), 4)
}

func TestZeroDelaySendsWithoutPausing(t *testing.T) {
	client := prototest.New()
	m, s := newManager(Options{DefaultDelay: time.Second}, client)

	_, err := m.Submit(context.Background(), "s1", []string{"1111111", "2222222", "3333333"}, text, 0)
	require.NoError(t, err)
	m.Wait()

	assert.Len(t, client.Sent(), 3)
	assert.Empty(t, s.d)
}

func TestProgressIsMonotonicAndCompletesAtHundred(t *testing.T) {
	client := prototest.New()
	release := make(chan struct{})
	client.SendFunc = func(to types.JID, p protocol.Payload) (protocol.SendResult, error) {
		<-release
		return protocol.SendResult{MessageID: "MSG-" + to.User}, nil
	}
	m, _ := newManager(Options{}, client)

	recipients := []string{"1111111", "2222222", "3333333", "4444444"}
	id, err := m.Submit(context.Background(), "s1", recipients, text, 0)
	require.NoError(t, err)

	check := func(last int) int {
		job, err := m.Status(id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, job.Progress, last)
		if job.Progress == 100 {
			assert.Equal(t, StatusCompleted, job.Status)
		} else {
			assert.NotEqual(t, StatusCompleted, job.Status)
		}
		return job.Progress
	}

	last := check(0)
	for range recipients {
		release <- struct{}{}
		last = check(last)
	}
	m.Wait()

	job, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 4, job.Sent)
}
