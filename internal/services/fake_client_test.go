package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"market-research/backend/internal/events"
	"market-research/backend/internal/repository"
	"market-research/backend/pkg/models"
)

type completeFunc func(ctx context.Context, req CompletionRequest) (*Completion, error)

// scriptedClient implements CompletionClient. Each call consumes the next
// scripted step; once the script is exhausted fallback answers.
type scriptedClient struct {
	mu       sync.Mutex
	steps    []completeFunc
	fallback completeFunc
	calls    []CompletionRequest
}

func (c *scriptedClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	n := len(c.calls)
	var fn completeFunc
	if len(c.steps) > 0 {
		fn, c.steps = c.steps[0], c.steps[1:]
	} else {
		fn = c.fallback
	}
	c.mu.Unlock()

	if fn == nil {
		return nil, fmt.Errorf("scriptedClient: no response configured for call %d", n)
	}
	return fn(ctx, req)
}

func (c *scriptedClient) then(steps ...completeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, steps...)
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func reply(text string, in, out int) completeFunc {
	return func(context.Context, CompletionRequest) (*Completion, error) {
		return &Completion{Text: text, Model: "test-model", InputTokens: &in, OutputTokens: &out}, nil
	}
}

func replyWithoutUsage(text string) completeFunc {
	return func(context.Context, CompletionRequest) (*Completion, error) {
		return &Completion{Text: text, Model: "test-model"}, nil
	}
}

func fail(err error) completeFunc {
	return func(context.Context, CompletionRequest) (*Completion, error) {
		return nil, err
	}
}

// hang blocks until the call's context ends.
func hang() completeFunc {
	return func(ctx context.Context, _ CompletionRequest) (*Completion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// numbered answers every call with a distinct text and fixed usage.
func numbered() completeFunc {
	var mu sync.Mutex
	n := 0
	return func(context.Context, CompletionRequest) (*Completion, error) {
		mu.Lock()
		n++
		text := fmt.Sprintf("generated section #%d", n)
		mu.Unlock()
		in, out := 200, 100
		return &Completion{Text: text, Model: "test-model", InputTokens: &in, OutputTokens: &out}, nil
	}
}

var testLocales = []string{"de", "fr", "es", "it", "ja", "ko"}

type testEnv struct {
	svc      *WorkflowService
	store    *repository.MemoryStore
	client   *scriptedClient
	recorder *events.Recorder
}

func newTestEnv(t *testing.T, tweaks ...func(*WorkflowConfig)) *testEnv {
	t.Helper()
	catalog, err := DefaultPhaseCatalog()
	require.NoError(t, err)

	env := &testEnv{
		store:    repository.NewMemoryStore(),
		client:   &scriptedClient{},
		recorder: &events.Recorder{},
	}
	cfg := testConfig()
	for _, tweak := range tweaks {
		tweak(&cfg)
	}
	env.svc = NewWorkflowService(env.store, env.client, catalog, cfg, WithPublisher(env.recorder))
	t.Cleanup(env.svc.Wait)
	return env
}

func testConfig() WorkflowConfig {
	return WorkflowConfig{
		DefaultLanguage:     "en",
		Locales:             testLocales,
		Timeout:             50 * time.Millisecond,
		Pricing:             Pricing{InputPer1K: 0.001, OutputPer1K: 0.002},
		MaxParallelChildren: 3,
	}
}

// faultyStore wraps a Repository and fails the writes that have an error set.
type faultyStore struct {
	repository.Repository
	completeErr error
	usageErr    error
}

func (f *faultyStore) CompleteJob(ctx context.Context, id string, r models.JobResult) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	return f.Repository.CompleteJob(ctx, id, r)
}

func (f *faultyStore) RecordUsage(ctx context.Context, r *models.UsageRecord) error {
	if f.usageErr != nil {
		return f.usageErr
	}
	return f.Repository.RecordUsage(ctx, r)
}

// newFaultyEnv builds a service over a faultyStore backed by a MemoryStore.
func newFaultyEnv(t *testing.T, catalog *PhaseCatalog, faults faultyStore) (*WorkflowService, *repository.MemoryStore, *scriptedClient) {
	t.Helper()
	store := repository.NewMemoryStore()
	faults.Repository = store
	client := &scriptedClient{fallback: numbered()}
	svc := NewWorkflowService(&faults, client, catalog, testConfig())
	t.Cleanup(svc.Wait)
	return svc, store, client
}
