package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

// ErrQueueFull is returned when the delivery queue has no room.
var ErrQueueFull = errors.New("email queue full")

// ErrNotifierClosed is returned by Send after Close.
var ErrNotifierClosed = errors.New("email notifier closed")

type NotifierConfig struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

func (c NotifierConfig) withDefaults() NotifierConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

type job struct {
	kind ports.EmailKind
	env  Envelope
}

// AsyncNotifier renders synchronously and delivers on background workers, so
// a request never waits on SMTP. Delivery failures are only logged.
type AsyncNotifier struct {
	logger    *slog.Logger
	templates *Templates
	sender    Sender
	cfg       NotifierConfig

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

func NewAsyncNotifier(logger *slog.Logger, templates *Templates, sender Sender, cfg NotifierConfig) *AsyncNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	n := &AsyncNotifier{
		logger:    logger.With("module", "email.notifier", "layer", "adapter"),
		templates: templates,
		sender:    sender,
		cfg:       cfg,
		queue:     make(chan job, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		n.wg.Add(1)
		go n.work()
	}
	return n
}

func (n *AsyncNotifier) Send(ctx context.Context, msg ports.EmailMessage) (ports.SendResult, error) {
	if msg.Recipient == "" {
		return ports.SendResult{}, errors.New("email recipient is required")
	}
	rendered, err := n.templates.Render(msg)
	if err != nil {
		return ports.SendResult{}, err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ports.SendResult{}, ErrNotifierClosed
	}
	select {
	case n.queue <- job{kind: msg.Kind, env: Envelope{To: msg.Recipient, Subject: rendered.Subject, HTML: rendered.HTML}}:
		return ports.SendResult{Queued: true}, nil
	case <-ctx.Done():
		return ports.SendResult{}, ctx.Err()
	default:
		return ports.SendResult{}, fmt.Errorf("%w: %d pending", ErrQueueFull, len(n.queue))
	}
}

func (n *AsyncNotifier) work() {
	defer n.wg.Done()
	for j := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.SendTimeout)
		id, err := n.sender.Deliver(ctx, j.env)
		cancel()
		if err != nil {
			n.logger.Error("email delivery failed",
				"operation", "deliver_email",
				"outcome", "failure",
				"email_kind", string(j.kind),
				"error", err,
			)
			continue
		}
		n.logger.Info("email delivered",
			"operation", "deliver_email",
			"outcome", "success",
			"email_kind", string(j.kind),
			"message_id", id,
		)
	}
}

// Close stops accepting messages and waits for queued deliveries or ctx.
func (n *AsyncNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
