package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/szaher/chatgate/internal/cache"
	"github.com/szaher/chatgate/internal/config"
	"github.com/szaher/chatgate/internal/llm"
	"github.com/szaher/chatgate/internal/store"
)

func newTestGateway(t *testing.T, st store.Store, client llm.Client, dailyTokens int) *Gateway {
	t.Helper()
	g, err := New(
		st,
		client,
		cache.NewResponseCache(1000),
		cache.NewQuotaMirror(24*time.Hour),
		config.NewLimits(config.LimitsConfig{DailyTokens: dailyTokens}),
		Options{Model: "test-model"},
	)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return g
}

func TestCompleteFirstMessageSeedsSystemTurn(t *testing.T) {
	st := store.NewMemory()
	mock := llm.NewMockClient(llm.MockResponse{
		Content:       "hello back",
		Usage:         llm.TokenUsage{CompletionTokens: 9},
		UsageReported: true,
	})
	g := newTestGateway(t, st, mock, 10000)
	ctx := context.Background()

	resp, err := g.Complete(ctx, 7, "hello")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if resp.Content != "hello back" {
		t.Errorf("Content = %q, want 'hello back'", resp.Content)
	}

	// The remote call carries exactly one system turn plus the user prompt.
	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 remote call, got %d", len(calls))
	}
	msgs := calls[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("expected [system, user] in request, got %d messages", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem {
		t.Errorf("first message role = %s, want system", msgs[0].Role)
	}
	if msgs[1].Role != llm.RoleUser || msgs[1].Content != "hello" {
		t.Errorf("last message = %+v, want user 'hello'", msgs[1])
	}

	// Persisted: system turn, user turn, assistant turn.
	turns, _ := st.RecentTurns(ctx, 7, 10)
	if len(turns) != 3 {
		t.Fatalf("expected 3 persisted turns, got %d", len(turns))
	}
	if turns[0].Role != llm.RoleSystem || turns[1].Role != llm.RoleUser || turns[2].Role != llm.RoleAssistant {
		t.Errorf("persisted roles = [%s, %s, %s], want [system, user, assistant]",
			turns[0].Role, turns[1].Role, turns[2].Role)
	}
	if turns[2].Tokens != 9 {
		t.Errorf("assistant turn tokens = %d, want service-reported 9", turns[2].Tokens)
	}
}

func TestCompleteSystemTurnSeededOnce(t *testing.T) {
	st := store.NewMemory()
	mock := llm.NewMockClient(llm.MockResponse{Content: "reply"})
	g := newTestGateway(t, st, mock, 10000)
	ctx := context.Background()

	// Two distinct prompts, both long enough to skip the response cache.
	_, _ = g.Complete(ctx, 1, strings.Repeat("first prompt ", 10))
	_, _ = g.Complete(ctx, 1, strings.Repeat("second prompt ", 10))

	turns, _ := st.RecentTurns(ctx, 1, 20)
	systems := 0
	for _, turn := range turns {
		if turn.Role == llm.RoleSystem {
			systems++
		}
	}
	if systems != 1 {
		t.Errorf("expected exactly 1 system turn across the conversation, got %d", systems)
	}
}

func TestCompleteLedgerAccuracy(t *testing.T) {
	st := store.NewMemory()
	mock := llm.NewMockClient(llm.MockResponse{
		Content:       "0123456789012345678901234567890123456789", // 40 chars
		Usage:         llm.TokenUsage{CompletionTokens: 25},
		UsageReported: true,
	})
	g := newTestGateway(t, st, mock, 10000)
	ctx := context.Background()

	prompt := strings.Repeat("q", 120) // estimated 30, too long to cache
	if _, err := g.Complete(ctx, 1, prompt); err != nil {
		t.Fatalf("Complete error: %v", err)
	}

	// system turn 0 + user 30 + assistant 25
	used, _ := st.TodayUsage(ctx, 1)
	if used != 55 {
		t.Errorf("TodayUsage = %d, want 55 (30 prompt + 25 reported completion)", used)
	}
}

func TestCompleteEstimatesWhenUsageNotReported(t *testing.T) {
	st := store.NewMemory()
	reply := strings.Repeat("r", 80) // estimated 20
	mock := llm.NewMockClient(llm.MockResponse{Content: reply})
	g := newTestGateway(t, st, mock, 10000)
	ctx := context.Background()

	_, err := g.Complete(ctx, 1, strings.Repeat("q", 200)) // estimated 50
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}

	used, _ := st.TodayUsage(ctx, 1)
	if used != 70 {
		t.Errorf("TodayUsage = %d, want 70 (50 prompt + 20 estimated completion)", used)
	}
}

func TestCompleteQuotaDailyLimitReached(t *testing.T) {
	st := store.NewMemory()
	mock := llm.NewMockClient(llm.MockResponse{Content: "reply"})
	g := newTestGateway(t, st, mock, 10000)
	ctx := context.Background()

	_ = st.AppendTurn(ctx, 1, llm.RoleAssistant, "prior", 10000)

	_, err := g.Complete(ctx, 1, "hello")
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("expected *QuotaError, got %v", err)
	}
	if qe.Reason != "daily limit reached" {
		t.Errorf("Reason = %q, want 'daily limit reached'", qe.Reason)
	}
	if len(mock.Calls()) != 0 {
		t.Error("remote call was made despite exhausted quota")
	}
}

func TestCompleteQuotaPreflightRejection(t *testing.T) {
	st := store.NewMemory()
	mock := llm.NewMockClient(llm.MockResponse{Content: "reply"})
	g := newTestGateway(t, st, mock, 10000)
	ctx := context.Background()

	// Pre-existing usage 9950; the prompt alone estimates at 100 tokens.
	_ = st.AppendTurn(ctx, 1, llm.RoleAssistant, "prior", 9950)

	_, err := g.Complete(ctx, 1, strings.Repeat("p", 400))
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("expected *QuotaError, got %v", err)
	}
	if qe.Reason != "would exceed daily limit" {
		t.Errorf("Reason = %q, want 'would exceed daily limit'", qe.Reason)
	}
	if len(mock.Calls()) != 0 {
		t.Error("request was forwarded to the remote service despite pre-flight rejection")
	}
}

func TestCompleteCacheHitIsFree(t *testing.T) {
	st := store.NewMemory()
	mock := llm.NewMockClient(llm.MockResponse{
		Content:       "cached answer",
		Usage:         llm.TokenUsage{CompletionTokens: 5},
		UsageReported: true,
	})
	g := newTestGateway(t, st, mock, 10000)
	ctx := context.Background()

	first, err := g.Complete(ctx, 1, "hi") // short prompt: cached
	if err != nil {
		t.Fatalf("first Complete error: %v", err)
	}
	usedAfterFirst, _ := st.TodayUsage(ctx, 1)

	second, err := g.Complete(ctx, 1, "hi")
	if err != nil {
		t.Fatalf("second Complete error: %v", err)
	}

	if len(mock.Calls()) != 1 {
		t.Errorf("expected 1 remote call total, got %d", len(mock.Calls()))
	}
	if second.Content != first.Content {
		t.Errorf("cache returned %q, want %q", second.Content, first.Content)
	}

	usedAfterSecond, _ := st.TodayUsage(ctx, 1)
	if usedAfterSecond != usedAfterFirst {
		t.Errorf("TodayUsage changed on cache hit: %d → %d", usedAfterFirst, usedAfterSecond)
	}
}

func TestCompleteLongPromptsNotCached(t *testing.T) {
	st := store.NewMemory()
	mock := llm.NewMockClient(llm.MockResponse{Content: "reply"})
	g := newTestGateway(t, st, mock, 100000)
	ctx := context.Background()

	long := strings.Repeat("x", 100) // at the threshold: not cached
	_, _ = g.Complete(ctx, 1, long)
	_, _ = g.Complete(ctx, 1, long)

	if len(mock.Calls()) != 2 {
		t.Errorf("expected 2 remote calls for uncached long prompt, got %d", len(mock.Calls()))
	}
}

func TestCompleteTimeoutLeavesNoPartialState(t *testing.T) {
	st := store.NewMemory()
	mock := llm.NewMockClient(llm.MockResponse{Error: context.DeadlineExceeded})
	g := newTestGateway(t, st, mock, 10000)
	ctx := context.Background()

	// Seed an existing conversation so the system turn is not the only state.
	_ = st.AppendTurn(ctx, 1, llm.RoleSystem, "sys", 0)
	_ = st.AppendTurn(ctx, 1, llm.RoleAssistant, "earlier", 10)

	_, err := g.Complete(ctx, 1, "does this time out")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if te.Reason != "timeout" {
		t.Errorf("Reason = %q, want 'timeout'", te.Reason)
	}

	turns, _ := st.RecentTurns(ctx, 1, 10)
	if len(turns) != 2 {
		t.Errorf("history changed on timeout: %d turns, want 2", len(turns))
	}
	used, _ := st.TodayUsage(ctx, 1)
	if used != 10 {
		t.Errorf("ledger changed on timeout: %d, want 10", used)
	}
}

func TestCompleteClassifiesAPIError(t *testing.T) {
	st := store.NewMemory()
	mock := llm.NewMockClient(llm.MockResponse{
		Error: &llm.APIError{StatusCode: 503, Body: "upstream overloaded"},
	})
	g := newTestGateway(t, st, mock, 10000)

	_, err := g.Complete(context.Background(), 1, "hello")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if te.Status != 503 {
		t.Errorf("Status = %d, want 503", te.Status)
	}
	if te.Body != "upstream overloaded" {
		t.Errorf("Body = %q, want diagnostics preserved", te.Body)
	}
}

func TestCompleteClassifiesMalformedResponse(t *testing.T) {
	st := store.NewMemory()
	mock := llm.NewMockClient(llm.MockResponse{
		Error: fmt.Errorf("decode: %w", llm.ErrMalformed),
	})
	g := newTestGateway(t, st, mock, 10000)

	_, err := g.Complete(context.Background(), 1, "hello")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if te.Reason != "malformed response" {
		t.Errorf("Reason = %q, want 'malformed response'", te.Reason)
	}
}

func TestCompleteConcurrentSameUserNoDoubleSpend(t *testing.T) {
	st := store.NewMemory()
	reply := strings.Repeat("r", 400) // estimated 100 per completion
	mock := llm.NewMockClient(llm.MockResponse{Content: reply})
	g := newTestGateway(t, st, mock, 400)
	ctx := context.Background()

	_ = st.AppendTurn(ctx, 1, llm.RoleSystem, "sys", 0)

	// Each successful exchange charges well over half the remaining budget;
	// serialized handling must reject the second distinct prompt.
	prompts := []string{
		strings.Repeat("a", 400), // estimated 100
		strings.Repeat("b", 400),
	}

	done := make(chan error, len(prompts))
	for _, p := range prompts {
		go func(prompt string) {
			_, err := g.Complete(ctx, 1, prompt)
			done <- err
		}(p)
	}

	var failures int
	for range prompts {
		if err := <-done; err != nil {
			var qe *QuotaError
			if !errors.As(err, &qe) {
				t.Errorf("unexpected error type: %v", err)
			}
			failures++
		}
	}

	if failures != 1 {
		t.Errorf("expected exactly 1 quota rejection under concurrency, got %d", failures)
	}
	used, _ := st.TodayUsage(ctx, 1)
	if used > 400 {
		t.Errorf("ledger overshot the daily limit: %d > 400", used)
	}
}

func TestUsagePrefersMirrorThenLedger(t *testing.T) {
	st := store.NewMemory()
	mock := llm.NewMockClient(llm.MockResponse{Content: "reply"})
	g := newTestGateway(t, st, mock, 10000)
	ctx := context.Background()

	_ = st.AppendTurn(ctx, 1, llm.RoleAssistant, "prior", 123)

	// First read misses the mirror and falls back to the ledger.
	used, err := g.Usage(ctx, 1)
	if err != nil {
		t.Fatalf("Usage error: %v", err)
	}
	if used != 123 {
		t.Errorf("Usage = %d, want 123", used)
	}

	// The ledger moved, but the mirror still answers until it expires.
	_ = st.AppendTurn(ctx, 1, llm.RoleAssistant, "more", 7)
	used, _ = g.Usage(ctx, 1)
	if used != 123 {
		t.Errorf("Usage = %d, want mirrored 123", used)
	}
}

func TestCompleteWritesQuotaMirror(t *testing.T) {
	st := store.NewMemory()
	mock := llm.NewMockClient(llm.MockResponse{
		Content:       "answer",
		Usage:         llm.TokenUsage{CompletionTokens: 4},
		UsageReported: true,
	})
	g := newTestGateway(t, st, mock, 10000)
	ctx := context.Background()

	if _, err := g.Complete(ctx, 1, "hey"); err != nil {
		t.Fatalf("Complete error: %v", err)
	}

	ledger, _ := st.TodayUsage(ctx, 1)
	mirrored, err := g.Usage(ctx, 1)
	if err != nil {
		t.Fatalf("Usage error: %v", err)
	}
	if mirrored != ledger {
		t.Errorf("mirror = %d, ledger = %d; want write-through to match", mirrored, ledger)
	}
}
