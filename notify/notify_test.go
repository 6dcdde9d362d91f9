package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recorder) Notify(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestDispatcherDeliversQueuedMessagesOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	d := NewDispatcher(rec, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), DispatcherConfig{BufferSize: 16, Workers: 2})
	for i := 0; i < 10; i++ {
		d.Send(context.Background(), Message{Kind: KindLoginOTP, Delivery: DeliveryEmail, To: "a@example.com"})
	}
	d.Close()

	assert.Equal(t, 10, rec.count())
	assert.Zero(t, d.Dropped())

	d.Send(context.Background(), Message{Kind: KindLoginOTP})
	assert.Equal(t, 10, rec.count(), "closed dispatcher must not accept messages")
}

func TestDispatcherLogsFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf bytes.Buffer
	rec := &recorder{err: errors.New("smtp down")}
	d := NewDispatcher(rec, slog.New(slog.NewTextHandler(&buf, nil)), DispatcherConfig{})
	d.Send(context.Background(), Message{Kind: KindRecoveryOTP, Delivery: DeliverySMS, To: "5550100"})
	d.Close()

	assert.Equal(t, uint64(1), d.Failed())
	assert.Contains(t, buf.String(), "notification delivery failed")
	assert.Contains(t, buf.String(), "smtp down")
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	blocking := NotifierFunc(func(ctx context.Context, _ Message) error {
		<-release
		return nil
	})
	d := NewDispatcher(blocking, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), DispatcherConfig{BufferSize: 1, Workers: 1})

	// One in flight, one buffered, the rest dropped.
	for i := 0; i < 5; i++ {
		d.Send(context.Background(), Message{Kind: KindLoginOTP})
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	d.Close()

	assert.GreaterOrEqual(t, d.Dropped(), uint64(3))
}

func TestSenderRoutesByDelivery(t *testing.T) {
	var gotTo, gotSubject, gotBody string
	capture := func(_ context.Context, to, subject, body string) error {
		gotTo, gotSubject, gotBody = to, subject, body
		return nil
	}
	s := &Sender{Email: capture, SMS: capture}

	err := s.Notify(context.Background(), Message{
		Kind:      KindLoginOTP,
		Delivery:  DeliverySMS,
		To:        "5550100",
		DialCode:  "+1",
		Code:      "123456",
		ExpiresIn: 5 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, "+15550100", gotTo)
	assert.Equal(t, "Your login code", gotSubject)
	assert.Contains(t, gotBody, "123456")
	assert.Contains(t, gotBody, "valid for 5 minutes")

	err = s.Notify(context.Background(), Message{Kind: KindLoginOTP, Delivery: DeliveryCall})
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestTemplatesRenderLinkOnlyWhenPresent(t *testing.T) {
	tmpl := DefaultTemplates()

	_, body, err := tmpl.Render(Message{Kind: KindRegistrationOTP, Name: "Ada", Code: "654321", ExpiresIn: 5 * time.Minute})
	require.NoError(t, err)
	assert.NotContains(t, body, "link")
	assert.True(t, strings.HasPrefix(body, "Welcome Ada,"))

	_, body, err = tmpl.Render(Message{Kind: KindRegistrationOTP, Code: "654321", Link: "https://x/y", ExpiresIn: 5 * time.Minute})
	require.NoError(t, err)
	assert.Contains(t, body, "https://x/y")

	_, _, err = tmpl.Render(Message{Kind: "unknown"})
	assert.Error(t, err)
}

func TestLogNotifierMasksRecipient(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	require.NoError(t, n.Notify(context.Background(), Message{
		Kind: KindLoginOTP, Delivery: DeliveryEmail, To: "ada@example.com", Code: "123456",
	}))
	out := buf.String()
	assert.Contains(t, out, "ad***********om")
	assert.NotContains(t, out, "123456")
}
