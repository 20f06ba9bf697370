package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tenantiq/ragcore/internal/core/domain"
)

type fakeGenerator struct {
	mu       sync.Mutex
	answer   string
	usage    domain.TokenUsage
	err      error
	calls    int
	lastUser string
}

func (f *fakeGenerator) Complete(_ context.Context, messages []domain.ChatMessage, _ domain.GenerationOptions) (string, domain.TokenUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(messages) > 0 {
		f.lastUser = messages[len(messages)-1].Content
	}
	return f.answer, f.usage, f.err
}

func (f *fakeGenerator) StreamComplete(ctx context.Context, messages []domain.ChatMessage, opts domain.GenerationOptions, onDelta func(string)) (string, domain.TokenUsage, error) {
	answer, usage, err := f.Complete(ctx, messages, opts)
	if err != nil {
		return "", usage, err
	}
	half := len(answer) / 2
	onDelta(answer[:half])
	onDelta(answer[half:])
	return answer, usage, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]domain.CachedResponse
	sets    chan string
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries: make(map[string]domain.CachedResponse),
		sets:    make(chan string, 4),
	}
}

func cacheKey(tenantID, question string) string {
	return tenantID + "|" + question
}

func (f *fakeCache) Get(_ context.Context, tenantID, question string) (*domain.CachedResponse, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[cacheKey(tenantID, question)]
	if !ok {
		return nil, false
	}
	return &entry, true
}

func (f *fakeCache) Set(_ context.Context, tenantID, question string, response domain.CachedResponse) {
	f.mu.Lock()
	f.entries[cacheKey(tenantID, question)] = response
	f.mu.Unlock()
	f.sets <- cacheKey(tenantID, question)
}

func (f *fakeCache) InvalidateTenant(_ context.Context, tenantID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for key := range f.entries {
		if strings.HasPrefix(key, tenantID+"|") {
			delete(f.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

type fakeSink struct {
	records chan domain.Interaction
	err     error
}

func newFakeSink() *fakeSink {
	return &fakeSink{records: make(chan domain.Interaction, 4)}
}

func (f *fakeSink) Record(_ context.Context, interaction domain.Interaction) error {
	f.records <- interaction
	return f.err
}

func (f *fakeSink) await(t *testing.T) domain.Interaction {
	t.Helper()
	select {
	case interaction := <-f.records:
		return interaction
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for interaction record")
		return domain.Interaction{}
	}
}

type fakeTenants struct {
	cfg domain.RAGConfig
	err error
}

func (f *fakeTenants) RAGConfig(_ context.Context, _ string) (domain.RAGConfig, error) {
	return f.cfg, f.err
}

type askFixture struct {
	uc        *AskUseCase
	embedder  *fakeEmbedder
	store     *fakeSearchStore
	generator *fakeGenerator
	cache     *fakeCache
	sink      *fakeSink
}

func newAskFixture() *askFixture {
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2}, tokens: 3}
	store := &fakeSearchStore{}
	generator := &fakeGenerator{answer: "The policy allows refunds [1]."}
	cache := newFakeCache()
	sink := newFakeSink()
	scorer := NewConfidenceScorer(DefaultConfidenceThresholds())

	uc := NewAskUseCase(
		NewHybridRetriever(embedder, store, scorer, RetrieverOptions{}),
		NewReranker(RerankerOptions{}),
		generator,
		cache,
		sink,
		&fakeTenants{cfg: domain.RAGConfig{TopK: 5}},
		scorer,
		nil,
		AskOptions{},
	)

	return &askFixture{
		uc:        uc,
		embedder:  embedder,
		store:     store,
		generator: generator,
		cache:     cache,
		sink:      sink,
	}
}

func assertNoCacheWrite(t *testing.T, cache *fakeCache) {
	t.Helper()
	select {
	case key := <-cache.sets:
		t.Fatalf("unexpected cache write for %s", key)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAskRejectsMissingInputs(t *testing.T) {
	fx := newAskFixture()

	if _, err := fx.uc.Ask(context.Background(), "", "question"); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing tenant, got %v", err)
	}
	if _, err := fx.uc.Ask(context.Background(), "tenant-a", "  "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank question, got %v", err)
	}
}

func TestAskConversationalShortCircuits(t *testing.T) {
	fx := newAskFixture()

	result, err := fx.uc.Ask(context.Background(), "tenant-a", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Conversational {
		t.Fatalf("expected conversational result")
	}
	if result.Confidence != 1.0 || result.ConfidenceLabel != LabelHigh {
		t.Fatalf("expected confidence 1.0/high, got %v/%s", result.Confidence, result.ConfidenceLabel)
	}
	if fx.generator.callCount() != 0 {
		t.Fatalf("generator must not run for conversational questions")
	}

	interaction := fx.sink.await(t)
	if !interaction.Conversational {
		t.Fatalf("expected conversational flag in interaction log")
	}
	assertNoCacheWrite(t, fx.cache)
}

func TestAskCacheHitSkipsPipeline(t *testing.T) {
	fx := newAskFixture()
	fx.cache.entries[cacheKey("tenant-a", "what is the policy")] = domain.CachedResponse{
		Answer:     "cached answer",
		Citations:  []domain.Citation{{Number: 1}},
		Confidence: 0.9,
	}

	result, err := fx.uc.Ask(context.Background(), "tenant-a", "what is the policy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.CacheHit {
		t.Fatalf("expected cache hit")
	}
	if result.Answer != "cached answer" {
		t.Fatalf("expected cached answer, got %q", result.Answer)
	}
	if result.ConfidenceLabel != LabelHigh {
		t.Fatalf("expected label recomputed from cached confidence, got %s", result.ConfidenceLabel)
	}
	if fx.generator.callCount() != 0 {
		t.Fatalf("generator must not run on cache hit")
	}

	interaction := fx.sink.await(t)
	if !interaction.CacheHit {
		t.Fatalf("expected cache-hit flag in interaction log")
	}
	assertNoCacheWrite(t, fx.cache)
}

func TestAskEmptyRetrievalReturnsFallback(t *testing.T) {
	fx := newAskFixture()

	result, err := fx.uc.Ask(context.Background(), "tenant-a", "what is the policy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer != NoContextAnswer {
		t.Fatalf("expected no-context answer, got %q", result.Answer)
	}
	if result.Confidence != 0 || result.ConfidenceLabel != LabelLow {
		t.Fatalf("expected zero/low confidence, got %v/%s", result.Confidence, result.ConfidenceLabel)
	}
	if len(result.Citations) != 0 {
		t.Fatalf("expected empty citations, got %v", result.Citations)
	}
	if fx.generator.callCount() != 0 {
		t.Fatalf("generator must not run without context")
	}

	interaction := fx.sink.await(t)
	if interaction.Answer != NoContextAnswer {
		t.Fatalf("expected fallback logged, got %q", interaction.Answer)
	}
	assertNoCacheWrite(t, fx.cache)
}

func TestAskFullPipelineCachesAndLogs(t *testing.T) {
	fx := newAskFixture()
	fx.store.vectorHits = []domain.RetrievedChunk{
		{ID: "c1", Content: "Refunds are allowed within 30 days.", DocumentID: "doc-1", DocumentTitle: "Policy"},
	}
	fx.generator.usage = domain.TokenUsage{PromptTokens: 100, CompletionTokens: 20}

	result, err := fx.uc.Ask(context.Background(), "tenant-a", "what is the refund policy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer != fx.generator.answer {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
	if len(result.Citations) != 1 || result.Citations[0].DocumentID != "doc-1" {
		t.Fatalf("expected citation to doc-1, got %+v", result.Citations)
	}
	if result.Confidence <= 0 {
		t.Fatalf("expected positive overall confidence, got %v", result.Confidence)
	}
	if result.TokensUsed.EmbeddingTokens != 3 || result.TokensUsed.PromptTokens != 100 || result.TokensUsed.CompletionTokens != 20 {
		t.Fatalf("unexpected token accounting: %+v", result.TokensUsed)
	}
	if result.RetrievedChunkCount != 1 {
		t.Fatalf("expected 1 retrieved chunk, got %d", result.RetrievedChunkCount)
	}

	interaction := fx.sink.await(t)
	if interaction.TenantID != "tenant-a" || interaction.ID == "" {
		t.Fatalf("unexpected interaction record: %+v", interaction)
	}

	select {
	case key := <-fx.cache.sets:
		if key != cacheKey("tenant-a", "what is the refund policy") {
			t.Fatalf("cache write under wrong key: %s", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected cache write after successful answer")
	}
}

func TestAskRecordsInvalidCitations(t *testing.T) {
	fx := newAskFixture()
	fx.store.vectorHits = []domain.RetrievedChunk{
		{ID: "c1", Content: "passage", DocumentID: "doc-1", DocumentTitle: "Policy"},
	}
	fx.generator.answer = "Claim [1], hallucinated [4]."

	result, err := fx.uc.Ask(context.Background(), "tenant-a", "question about the policy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.InvalidCitations) != 1 || result.InvalidCitations[0] != 4 {
		t.Fatalf("expected invalid citation [4], got %v", result.InvalidCitations)
	}
	if len(result.Citations) != 1 {
		t.Fatalf("expected one valid citation, got %d", len(result.Citations))
	}
}

func TestAskGenerationFailureIsWrapped(t *testing.T) {
	fx := newAskFixture()
	fx.store.vectorHits = []domain.RetrievedChunk{
		{ID: "c1", Content: "passage", DocumentID: "doc-1"},
	}
	fx.generator.err = errors.New("model offline")

	_, err := fx.uc.Ask(context.Background(), "tenant-a", "question about the policy")
	if !domain.IsKind(err, domain.ErrGeneration) {
		t.Fatalf("expected generation error kind, got %v", err)
	}
}

func TestAskTenantConfigFailurePropagates(t *testing.T) {
	fx := newAskFixture()
	scorer := NewConfidenceScorer(DefaultConfidenceThresholds())
	uc := NewAskUseCase(
		NewHybridRetriever(fx.embedder, fx.store, scorer, RetrieverOptions{}),
		NewReranker(RerankerOptions{}),
		fx.generator,
		fx.cache,
		fx.sink,
		&fakeTenants{err: errors.New("config db down")},
		scorer,
		nil,
		AskOptions{},
	)

	if _, err := uc.Ask(context.Background(), "tenant-a", "question about the policy"); err == nil {
		t.Fatalf("expected tenant config error to propagate")
	}
}

func TestAskTenantIsolationInCache(t *testing.T) {
	fx := newAskFixture()
	fx.cache.entries[cacheKey("tenant-a", "shared question")] = domain.CachedResponse{Answer: "tenant A answer"}
	fx.store.vectorHits = []domain.RetrievedChunk{
		{ID: "c1", Content: "tenant B passage", DocumentID: "doc-1"},
	}

	result, err := fx.uc.Ask(context.Background(), "tenant-b", "shared question")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CacheHit {
		t.Fatalf("tenant-b must not see tenant-a's cached response")
	}
	fx.sink.await(t)
}

func TestAskStreamEmitsDeltasAndParsesOnce(t *testing.T) {
	fx := newAskFixture()
	fx.store.vectorHits = []domain.RetrievedChunk{
		{ID: "c1", Content: "Refund passage.", DocumentID: "doc-1", DocumentTitle: "Policy"},
	}

	var mu sync.Mutex
	var transcript strings.Builder
	deltas := 0
	result, err := fx.uc.AskStream(context.Background(), "tenant-a", "what is the refund policy", func(fragment string) {
		mu.Lock()
		defer mu.Unlock()
		transcript.WriteString(fragment)
		deltas++
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deltas != 2 {
		t.Fatalf("expected 2 streamed fragments, got %d", deltas)
	}
	if transcript.String() != result.Answer {
		t.Fatalf("streamed transcript %q != final answer %q", transcript.String(), result.Answer)
	}
	if len(result.Citations) != 1 {
		t.Fatalf("expected citations parsed from full transcript, got %d", len(result.Citations))
	}
}

func TestAskStreamNilDeltaCallback(t *testing.T) {
	fx := newAskFixture()
	fx.store.vectorHits = []domain.RetrievedChunk{
		{ID: "c1", Content: "passage", DocumentID: "doc-1"},
	}

	if _, err := fx.uc.AskStream(context.Background(), "tenant-a", "question about the policy", nil); err != nil {
		t.Fatalf("unexpected error with nil callback: %v", err)
	}
}
