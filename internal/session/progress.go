package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	progressInterval = 500 * time.Millisecond
	progressMaxTicks = 30
)

// progressIndicator is a transient message edited in place while a remote
// call is in flight. It runs as its own goroutine and is cooperatively
// cancelled: Stop signals the loop, waits for it to exit, then deletes the
// visible message best-effort.
type progressIndicator struct {
	sink     Sink
	chatID   int64
	msgID    int
	logger   *slog.Logger
	interval time.Duration

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// startProgress posts the initial placeholder and begins ticking. A nil
// indicator is returned when the placeholder itself cannot be sent; the
// caller proceeds without one.
func startProgress(ctx context.Context, sink Sink, chatID int64, logger *slog.Logger) *progressIndicator {
	return startProgressInterval(ctx, sink, chatID, logger, progressInterval)
}

func startProgressInterval(ctx context.Context, sink Sink, chatID int64, logger *slog.Logger, interval time.Duration) *progressIndicator {
	msgID, err := sink.Send(ctx, chatID, "🔄 Processing...")
	if err != nil {
		logger.Debug("progress indicator unavailable", "error", err)
		return nil
	}

	p := &progressIndicator{
		sink:     sink,
		chatID:   chatID,
		msgID:    msgID,
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

func (p *progressIndicator) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for tick := 0; tick < progressMaxTicks; tick++ {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		elapsed := time.Duration(tick+1) * p.interval
		if err := p.sink.Edit(ctx, p.chatID, p.msgID, fmt.Sprintf("⏱️ %.1fs", elapsed.Seconds())); err != nil {
			// The message may have been deleted under us.
			return
		}
	}
}

// Stop cancels the ticker loop, joins it, and removes the visible message.
// Cleanup failures are logged and never propagated. Safe to call more than
// once and on a nil receiver.
func (p *progressIndicator) Stop(ctx context.Context) {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
		if err := p.sink.Delete(ctx, p.chatID, p.msgID); err != nil {
			p.logger.Debug("progress message cleanup failed", "error", err)
		}
	})
}
