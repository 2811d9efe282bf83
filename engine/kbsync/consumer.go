package kbsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/answerly/engine/engine/domain"
	"github.com/answerly/engine/pkg/metrics"
	"github.com/answerly/engine/pkg/natsutil"
	"github.com/answerly/engine/pkg/resilience"
)

// NATS subjects for knowledge-base sync events.
const (
	SubjectUpsert = "kb.qa.upsert"
	SubjectDelete = "kb.qa.delete"
	SubjectDLQ    = "kb.qa.dlq"

	queueGroup       = "kbsync-workers"
	retryCountHeader = "X-Retry-Count"
)

// UpsertEvent asks the worker to (re)index a QA pair.
type UpsertEvent struct {
	QA domain.QAPair `json:"qa"`
}

// DeleteEvent asks the worker to remove vectors. With ID set it removes one
// QA pair; with only ChatbotID set it removes the whole tenant.
type DeleteEvent struct {
	ID        string `json:"id,omitempty"`
	ChatbotID string `json:"chatbot_id,omitempty"`
}

// dlqEnvelope wraps a failed event with the reason it was parked.
type dlqEnvelope struct {
	Subject string `json:"subject"`
	Data    any    `json:"data"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// Consumer subscribes to sync events and applies them through a Syncer.
// Transient failures are requeued with a bounded retry count; permanent
// failures and exhausted retries land on the DLQ subject.
type Consumer struct {
	nc         *nats.Conn
	syncer     *Syncer
	breaker    *resilience.Breaker
	log        *slog.Logger
	maxRetries int

	processed *metrics.Counter
	failed    *metrics.Counter
	dlq       *metrics.Counter

	subs []*nats.Subscription
}

// NewConsumer creates a Consumer. maxRetries <= 0 defaults to 3.
func NewConsumer(nc *nats.Conn, syncer *Syncer, reg *metrics.Registry, log *slog.Logger, maxRetries int) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Consumer{
		nc:         nc,
		syncer:     syncer,
		breaker:    resilience.NewBreaker(resilience.DefaultBreakerOpts),
		log:        log,
		maxRetries: maxRetries,
		processed:  reg.Counter("kbsync_events_processed_total", "Sync events applied successfully."),
		failed:     reg.Counter("kbsync_events_failed_total", "Sync event attempts that failed."),
		dlq:        reg.Counter("kbsync_events_dlq_total", "Sync events parked on the DLQ."),
	}
}

// Start subscribes to the upsert and delete subjects. Call Stop to drain.
func (c *Consumer) Start(ctx context.Context) error {
	upsertSub, err := natsutil.SubscribeQueue(c.nc, SubjectUpsert, queueGroup,
		func(msgCtx context.Context, ev UpsertEvent, msg *nats.Msg) {
			c.handle(msgCtx, msg, SubjectUpsert, ev, func(ctx context.Context) error {
				return c.syncer.Upsert(ctx, ev.QA)
			})
		})
	if err != nil {
		return fmt.Errorf("kbsync: subscribe %s: %w", SubjectUpsert, err)
	}
	c.subs = append(c.subs, upsertSub)

	deleteSub, err := natsutil.SubscribeQueue(c.nc, SubjectDelete, queueGroup,
		func(msgCtx context.Context, ev DeleteEvent, msg *nats.Msg) {
			c.handle(msgCtx, msg, SubjectDelete, ev, func(ctx context.Context) error {
				if ev.ID != "" {
					return c.syncer.Delete(ctx, ev.ID)
				}
				return c.syncer.DeleteChatbot(ctx, ev.ChatbotID)
			})
		})
	if err != nil {
		return fmt.Errorf("kbsync: subscribe %s: %w", SubjectDelete, err)
	}
	c.subs = append(c.subs, deleteSub)

	c.log.Info("kbsync consumer started",
		"subjects", []string{SubjectUpsert, SubjectDelete},
		"queue", queueGroup,
		"max_retries", c.maxRetries,
	)

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return nil
}

// Stop drains all subscriptions.
func (c *Consumer) Stop() {
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	c.subs = nil
}

// handle applies one event through the circuit breaker and routes failures to
// either a requeue or the DLQ.
func (c *Consumer) handle(ctx context.Context, msg *nats.Msg, subject string, ev any, apply func(context.Context) error) {
	err := c.breaker.Call(ctx, apply)
	if err == nil {
		c.processed.Inc()
		return
	}
	c.failed.Inc()

	retries := retryCount(msg)
	retryable := domain.Retryable(err) || errors.Is(err, resilience.ErrCircuitOpen)
	if retryable && retries < c.maxRetries {
		c.log.Warn("sync event failed, requeueing",
			"subject", subject, "retries", retries, "error", err)
		hdr := nats.Header{}
		hdr.Set(retryCountHeader, strconv.Itoa(retries+1))
		if pubErr := natsutil.PublishHeaders(ctx, c.nc, subject, ev, hdr); pubErr != nil {
			c.log.Error("requeue failed", "subject", subject, "error", pubErr)
		}
		return
	}

	c.dlq.Inc()
	c.log.Error("sync event parked on DLQ",
		"subject", subject, "retries", retries, "error", err)
	envelope := dlqEnvelope{Subject: subject, Data: ev, Error: err.Error(), Retries: retries}
	if pubErr := natsutil.Publish(ctx, c.nc, SubjectDLQ, envelope); pubErr != nil {
		c.log.Error("dlq publish failed", "subject", subject, "error", pubErr)
	}
}

func retryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(retryCountHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
