package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/szaher/chatgate/internal/gateway"
	"github.com/szaher/chatgate/internal/llm"
	"github.com/szaher/chatgate/internal/ratelimit"
	"github.com/szaher/chatgate/internal/store"
	"github.com/szaher/chatgate/internal/telemetry"
)

// State tracks an inbound message through its lifecycle. Every message
// starts at admission and terminates in either StateDone or StateFailed.
type State string

const (
	StateAdmitted State = "admitted"
	StateInFlight State = "in_flight"
	StateDone     State = "done"
	StateFailed   State = "failed"
)

// Completer is the slice of the completion gateway the orchestrator needs.
type Completer interface {
	Complete(ctx context.Context, userID int64, prompt string) (*llm.ChatResponse, error)
	Usage(ctx context.Context, userID int64) (int, error)
	DailyLimit() int
}

// Orchestrator is the per-message entry point: it applies rate-limit
// admission, runs a progress indicator while the gateway call is in
// flight, and emits the outcome to the sink. All gateway error categories
// are converted to user-facing notices here; nothing propagates.
type Orchestrator struct {
	completer Completer
	store     store.Store
	limiter   *ratelimit.Limiter
	sink      Sink
	logger    *slog.Logger

	now              func() time.Time
	progressInterval time.Duration
}

func NewOrchestrator(completer Completer, st store.Store, limiter *ratelimit.Limiter, sink Sink, logger *slog.Logger) (*Orchestrator, error) {
	if completer == nil || st == nil || limiter == nil || sink == nil {
		return nil, errors.New("session: all collaborators are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		completer:        completer,
		store:            st,
		limiter:          limiter,
		sink:             sink,
		logger:           logger,
		now:              time.Now,
		progressInterval: progressInterval,
	}, nil
}

// HandleMessage processes one inbound user message end to end. The
// progress indicator is guaranteed to be stopped and removed on every exit
// path, including panics escaping the gateway call.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID, chatID int64, text string) {
	logger := telemetry.RequestLogger(o.logger, ctx, userID)

	if !o.limiter.Admit(userID, o.now()) {
		logger.Info("message rejected", "state", StateFailed, "reason", "rate limited")
		telemetry.RequestsTotal.WithLabelValues("throttled").Inc()
		o.send(ctx, chatID, "⏳ *Too many requests!* Please wait a minute.")
		return
	}
	logger.Debug("message admitted", "state", StateAdmitted)

	indicator := startProgressInterval(ctx, o.sink, chatID, logger, o.progressInterval)
	defer func() {
		indicator.Stop(ctx)
		if r := recover(); r != nil {
			logger.Error("panic handling message", "panic", r)
			telemetry.RequestsTotal.WithLabelValues("panic").Inc()
			o.send(ctx, chatID, "⚠️ *A system error occurred*")
		}
	}()

	logger.Debug("message in flight", "state", StateInFlight)
	resp, err := o.completer.Complete(ctx, userID, text)
	indicator.Stop(ctx)

	if err != nil {
		logger.Warn("completion failed", "state", StateFailed, "error", err)
		telemetry.RequestsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		o.send(ctx, chatID, noticeFor(err))
		return
	}

	logger.Info("completion delivered", "state", StateDone)
	telemetry.RequestsTotal.WithLabelValues("ok").Inc()
	o.send(ctx, chatID, Sanitize(resp.Content))
}

// send delivers already-formatted text, applying only the length cap.
func (o *Orchestrator) send(ctx context.Context, chatID int64, text string) {
	if _, err := o.sink.Send(ctx, chatID, truncate(text)); err != nil {
		o.logger.Error("outbound send failed", "chat_id", chatID, "error", err)
	}
}

// noticeFor maps each gateway error category to a distinct user notice.
func noticeFor(err error) string {
	var (
		quota     *gateway.QuotaError
		transport *gateway.TransportError
		storage   *gateway.StorageError
	)
	switch {
	case errors.As(err, &quota):
		return fmt.Sprintf("🚫 *Quota exceeded*: %s. Usage resets at midnight UTC.", quota.Reason)
	case errors.As(err, &transport):
		return "❌ *Request failed*: " + transport.Reason + ". Please try again."
	case errors.As(err, &storage):
		return "⚠️ *Something went wrong*. Please try again later."
	default:
		return "⚠️ *A system error occurred*"
	}
}

func outcomeLabel(err error) string {
	var (
		quota     *gateway.QuotaError
		transport *gateway.TransportError
		storage   *gateway.StorageError
	)
	switch {
	case errors.As(err, &quota):
		return "quota"
	case errors.As(err, &transport):
		return "transport"
	case errors.As(err, &storage):
		return "storage"
	default:
		return "error"
	}
}
