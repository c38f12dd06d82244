package email_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rollboy-tz/mult-schools-management-system/internal/adapters/email"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func mustTemplates(t *testing.T) *email.Templates {
	t.Helper()
	tpl, err := email.LoadTemplates()
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	return tpl
}

func TestRenderEveryKind(t *testing.T) {
	t.Parallel()

	tpl := mustTemplates(t)
	cases := []struct {
		kind    ports.EmailKind
		data    map[string]string
		subject string
		body    string
	}{
		{
			kind:    ports.EmailFounderVerification,
			data:    map[string]string{"founder_name": "Asha", "school_name": "Alpha", "school_code": "SCH-0001", "code": "123456", "expires_minutes": "30"},
			subject: "Verify Your Account - Alpha",
			body:    "123456",
		},
		{
			kind:    ports.EmailSchoolActivated,
			data:    map[string]string{"founder_name": "Asha", "school_name": "Alpha", "school_code": "SCH-0001", "trial_ends": "2026-04-01"},
			subject: "Welcome to Alpha",
			body:    "2026-04-01",
		},
		{
			kind:    ports.EmailPasswordReset,
			data:    map[string]string{"full_name": "Asha", "code": "654321", "expires_minutes": "15"},
			subject: "Password Reset Code",
			body:    "654321",
		},
		{
			kind:    ports.EmailPasswordChanged,
			data:    map[string]string{"full_name": "Asha", "changed_at": "2026-03-02 08:00 UTC"},
			subject: "Your Password Was Changed",
			body:    "2026-03-02 08:00 UTC",
		},
	}
	for _, tc := range cases {
		out, err := tpl.Render(ports.EmailMessage{Kind: tc.kind, Recipient: "a@b.sc", Data: tc.data})
		if err != nil {
			t.Fatalf("%s: render failed: %v", tc.kind, err)
		}
		if out.Subject != tc.subject {
			t.Fatalf("%s: subject %q", tc.kind, out.Subject)
		}
		if !strings.Contains(out.HTML, tc.body) {
			t.Fatalf("%s: body missing %q", tc.kind, tc.body)
		}
	}

	escaped, err := tpl.Render(ports.EmailMessage{Kind: ports.EmailPasswordReset, Data: map[string]string{"full_name": "<script>x</script>"}})
	if err != nil || strings.Contains(escaped.HTML, "<script>") {
		t.Fatalf("template data must be escaped, err=%v", err)
	}
	if _, err := tpl.Render(ports.EmailMessage{Kind: "newsletter"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

type recordingSender struct {
	mu    sync.Mutex
	sent  []email.Envelope
	err   error
	block chan struct{}
}

func (s *recordingSender) Deliver(ctx context.Context, env email.Envelope) (string, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, env)
	return "<id@test>", nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestAsyncNotifierDeliversInBackground(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	n := email.NewAsyncNotifier(quietLogger(), mustTemplates(t), sender, email.NotifierConfig{Workers: 1})
	res, err := n.Send(context.Background(), ports.EmailMessage{
		Kind:      ports.EmailPasswordReset,
		Recipient: "f@alpha.sc",
		Data:      map[string]string{"code": "111222"},
	})
	if err != nil || !res.Queued {
		t.Fatalf("send failed: %+v err=%v", res, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if sender.count() != 1 || sender.sent[0].To != "f@alpha.sc" || !strings.Contains(sender.sent[0].HTML, "111222") {
		t.Fatalf("unexpected deliveries %+v", sender.sent)
	}
	if _, err := n.Send(context.Background(), ports.EmailMessage{Kind: ports.EmailPasswordReset, Recipient: "f@alpha.sc"}); !errors.Is(err, email.ErrNotifierClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestAsyncNotifierRejectsWhenFull(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{block: make(chan struct{})}
	n := email.NewAsyncNotifier(quietLogger(), mustTemplates(t), sender, email.NotifierConfig{Workers: 1, QueueSize: 1})
	msg := ports.EmailMessage{Kind: ports.EmailPasswordChanged, Recipient: "f@alpha.sc"}

	var full error
	for i := 0; i < 5 && full == nil; i++ {
		_, full = n.Send(context.Background(), msg)
	}
	if !errors.Is(full, email.ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", full)
	}
	close(sender.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSendValidatesBeforeQueueing(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{err: errors.New("smtp down")}
	n := email.NewAsyncNotifier(quietLogger(), mustTemplates(t), sender, email.NotifierConfig{})
	defer n.Close(context.Background())

	if _, err := n.Send(context.Background(), ports.EmailMessage{Kind: ports.EmailPasswordReset}); err == nil {
		t.Fatalf("expected error without recipient")
	}
	if _, err := n.Send(context.Background(), ports.EmailMessage{Kind: "bogus", Recipient: "a@b.sc"}); err == nil {
		t.Fatalf("expected render error for unknown kind")
	}
	if _, err := n.Send(context.Background(), ports.EmailMessage{Kind: ports.EmailPasswordReset, Recipient: "a@b.sc"}); err != nil {
		t.Fatalf("delivery failures must not surface to the caller: %v", err)
	}
}

func TestNewSMTPSenderValidation(t *testing.T) {
	t.Parallel()

	if _, err := email.NewSMTPSender(email.SMTPConfig{}); err == nil {
		t.Fatalf("expected missing config error")
	}
	if _, err := email.NewSMTPSender(email.SMTPConfig{Host: "smtp.test", Port: 587, From: "not an address"}); err == nil {
		t.Fatalf("expected from address error")
	}
	if _, err := email.NewSMTPSender(email.SMTPConfig{Host: "smtp.test", Port: 587, From: "noreply@school.sc", FromName: "School System"}); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if _, err := email.NewLoggingSender(quietLogger()).Deliver(context.Background(), email.Envelope{To: "a@b.sc"}); err != nil {
		t.Fatalf("logging sender failed: %v", err)
	}
}
