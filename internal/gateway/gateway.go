// Package gateway orchestrates a single completion request: cache lookup,
// quota pre-flight against the daily ledger, history assembly, the outbound
// remote call, and persistence of the exchange.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/szaher/chatgate/internal/cache"
	"github.com/szaher/chatgate/internal/config"
	"github.com/szaher/chatgate/internal/llm"
	"github.com/szaher/chatgate/internal/store"
	"github.com/szaher/chatgate/internal/telemetry"
)

const (
	// metadataBuffer pads the pre-flight cost estimate to cover request
	// framing the estimator cannot see.
	metadataBuffer = 100

	defaultHistoryTurns = 10
	defaultShortPrompt  = 100
	defaultTimeout      = 30 * time.Second
	defaultSystemPrompt = "You are a helpful AI assistant."
)

// Options configures a Gateway.
type Options struct {
	Model        string
	Temperature  float64
	HistoryTurns int
	// ShortPromptChars is the prompt length threshold below which responses
	// are cached. Long prompts are unlikely to repeat and would waste cache
	// capacity.
	ShortPromptChars int
	Timeout          time.Duration
	SystemPrompt     string
	Logger           *slog.Logger
}

// Gateway composes the store, caches, and remote client into the completion
// pipeline. Safe for concurrent use by many in-flight requests.
type Gateway struct {
	store     store.Store
	client    llm.Client
	responses *cache.ResponseCache
	quota     *cache.QuotaMirror
	limits    *config.Limits
	opts      Options

	flight singleflight.Group

	// userLocks serializes the quota check through persistence per user,
	// so concurrent requests from one user cannot both pass the pre-flight
	// check and double-spend past the daily limit.
	mu        sync.Mutex
	userLocks map[int64]*sync.Mutex

	now func() time.Time
}

// New creates a Gateway. The store and client are required; zero-valued
// options fall back to defaults.
func New(st store.Store, client llm.Client, responses *cache.ResponseCache, quota *cache.QuotaMirror, limits *config.Limits, opts Options) (*Gateway, error) {
	if st == nil {
		return nil, errors.New("gateway: store must not be nil")
	}
	if client == nil {
		return nil, errors.New("gateway: llm client must not be nil")
	}
	if responses == nil || quota == nil {
		return nil, errors.New("gateway: caches must not be nil")
	}
	if limits == nil {
		return nil, errors.New("gateway: limits must not be nil")
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = defaultHistoryTurns
	}
	if opts.ShortPromptChars <= 0 {
		opts.ShortPromptChars = defaultShortPrompt
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{
		store:     st,
		client:    client,
		responses: responses,
		quota:     quota,
		limits:    limits,
		opts:      opts,
		userLocks: make(map[int64]*sync.Mutex),
		now:       time.Now,
	}, nil
}

// Complete runs the admission pipeline for one prompt and returns the
// completion payload. Cache hits and fresh calls return the same shape, so
// callers cannot distinguish them.
func (g *Gateway) Complete(ctx context.Context, userID int64, prompt string) (*llm.ChatResponse, error) {
	if resp, ok := g.responses.Get(userID, prompt); ok {
		telemetry.CacheEventsTotal.WithLabelValues("response", "hit").Inc()
		telemetry.RequestLogger(g.opts.Logger, ctx, userID).Debug("response cache hit")
		return resp, nil
	}
	telemetry.CacheEventsTotal.WithLabelValues("response", "miss").Inc()

	// Identical concurrent requests share one remote call.
	v, err, _ := g.flight.Do(fmt.Sprintf("%d\x00%s", userID, prompt), func() (interface{}, error) {
		return g.complete(ctx, userID, prompt)
	})
	if err != nil {
		return nil, err
	}
	return v.(*llm.ChatResponse), nil
}

func (g *Gateway) complete(ctx context.Context, userID int64, prompt string) (*llm.ChatResponse, error) {
	lock := g.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	logger := telemetry.RequestLogger(g.opts.Logger, ctx, userID)
	dailyLimit := g.limits.DailyTokens()

	usage, err := g.store.TodayUsage(ctx, userID)
	if err != nil {
		return nil, &StorageError{Op: "today usage", Err: err}
	}
	if usage >= dailyLimit {
		return nil, &QuotaError{Reason: "daily limit reached"}
	}

	turns, err := g.store.RecentTurns(ctx, userID, g.opts.HistoryTurns)
	if err != nil {
		return nil, &StorageError{Op: "recent turns", Err: err}
	}

	history := make([]llm.Message, 0, len(turns)+1)
	for _, t := range turns {
		history = append(history, t.Message())
	}
	if len(history) == 0 {
		// Every conversation opens with exactly one system turn.
		sys := llm.Message{Role: llm.RoleSystem, Content: g.opts.SystemPrompt}
		if err := g.store.AppendTurn(ctx, userID, sys.Role, sys.Content, 0); err != nil {
			return nil, &StorageError{Op: "seed system turn", Err: err}
		}
		history = append(history, sys)
	}

	promptTokens := llm.Estimate(prompt)
	estimated := promptTokens + llm.EstimateMessages(history) + metadataBuffer
	if usage+estimated > dailyLimit {
		return nil, &QuotaError{Reason: "would exceed daily limit"}
	}

	temp := g.opts.Temperature
	req := llm.ChatRequest{
		Model:       g.opts.Model,
		Messages:    append(history, llm.Message{Role: llm.RoleUser, Content: prompt}),
		Temperature: &temp,
	}

	callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	start := g.now()
	resp, err := g.client.Chat(callCtx, req)
	telemetry.RemoteCallSeconds.Observe(g.now().Sub(start).Seconds())
	if err != nil {
		return nil, classifyRemoteError(err)
	}

	completionTokens := resp.Usage.CompletionTokens
	if !resp.UsageReported {
		completionTokens = llm.Estimate(resp.Content)
	}

	// Persist the exchange only after a successful call: a timeout or
	// transport failure leaves both history and ledger untouched. The user
	// turn is charged at estimated cost, the assistant turn at reported
	// cost, so reconstructed history carries both sides.
	if err := g.store.AppendTurn(ctx, userID, llm.RoleUser, prompt, promptTokens); err != nil {
		return nil, &StorageError{Op: "persist user turn", Err: err}
	}
	if err := g.store.AppendTurn(ctx, userID, llm.RoleAssistant, resp.Content, completionTokens); err != nil {
		return nil, &StorageError{Op: "persist assistant turn", Err: err}
	}
	telemetry.TokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	telemetry.TokensTotal.WithLabelValues("completion").Add(float64(completionTokens))

	g.quota.Set(userID, store.DayKey(g.now()), usage+promptTokens+completionTokens)

	if len(prompt) < g.opts.ShortPromptChars {
		g.responses.Put(userID, prompt, resp)
	}

	logger.Info("completion served",
		"prompt_tokens", promptTokens,
		"completion_tokens", completionTokens,
		"usage_reported", resp.UsageReported,
	)
	return resp, nil
}

// Usage returns the user's token total for the current UTC day, preferring
// the quota mirror and falling back to the authoritative ledger.
func (g *Gateway) Usage(ctx context.Context, userID int64) (int, error) {
	day := store.DayKey(g.now())
	if tokens, ok := g.quota.Get(userID, day); ok {
		telemetry.CacheEventsTotal.WithLabelValues("quota", "hit").Inc()
		return tokens, nil
	}
	telemetry.CacheEventsTotal.WithLabelValues("quota", "miss").Inc()

	usage, err := g.store.TodayUsage(ctx, userID)
	if err != nil {
		return 0, &StorageError{Op: "today usage", Err: err}
	}
	g.quota.Set(userID, day, usage)
	return usage, nil
}

// DailyLimit returns the currently configured per-user daily token budget.
func (g *Gateway) DailyLimit() int {
	return g.limits.DailyTokens()
}

func (g *Gateway) userLock(userID int64) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		g.userLocks[userID] = lock
	}
	return lock
}

func classifyRemoteError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Reason: "timeout", Err: err}
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return &TransportError{
			Reason: "remote service error",
			Status: apiErr.StatusCode,
			Body:   apiErr.Body,
			Err:    err,
		}
	}

	if errors.Is(err, llm.ErrMalformed) {
		return &TransportError{Reason: "malformed response", Err: err}
	}

	return &TransportError{Reason: err.Error(), Err: err}
}
