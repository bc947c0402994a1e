package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float64
		expected float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"scaled", []float64{1, 2, 3}, []float64{2, 4, 6}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"length mismatch", []float64{1, 2}, []float64{1, 2, 3}, 0},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
		{"empty", []float64{}, []float64{}, 0},
		{"NaN component", []float64{math.NaN(), 1}, []float64{1, 1}, 0},
		{"infinite component", []float64{math.Inf(1), 1}, []float64{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestCosineSimilarity_Symmetric(t *testing.T) {
	a := []float64{0.3, -1.2, 4.5, 0}
	b := []float64{1.1, 0.4, -0.2, 2}
	if CosineSimilarity(a, b) != CosineSimilarity(b, a) {
		t.Error("expected similarity to be symmetric")
	}
}

func TestUpdateCentroid(t *testing.T) {
	centroid := []float64{1, 1}
	got := UpdateCentroid(centroid, []float64{4, 7}, 2)
	expected := []float64{2, 3}
	for i := range expected {
		if math.Abs(got[i]-expected[i]) > 1e-9 {
			t.Errorf("component %d: expected %f, got %f", i, expected[i], got[i])
		}
	}
	if centroid[0] != 1 {
		t.Error("expected input centroid to be left unchanged")
	}
}

func TestUpdateCentroid_MeanOfMembers(t *testing.T) {
	members := [][]float64{{1, 0, 2}, {3, 4, 0}, {2, 2, 1}, {6, 0, 1}}
	centroid := members[0]
	for i := 1; i < len(members); i++ {
		centroid = UpdateCentroid(centroid, members[i], i)
	}
	expected := []float64{3, 1.5, 1}
	for i := range expected {
		if math.Abs(centroid[i]-expected[i]) > 1e-9 {
			t.Errorf("component %d: expected %f, got %f", i, expected[i], centroid[i])
		}
	}
}

func TestHashingProvider_Deterministic(t *testing.T) {
	p := NewHashingProvider(64)
	a, err := p.Embed(context.Background(), "vpn connection drops")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := p.Embed(context.Background(), "vpn connection drops")

	if len(a) != 64 {
		t.Fatalf("expected 64 dimensions, got %d", len(a))
	}
	if CosineSimilarity(a, b) < 0.999999 {
		t.Error("expected identical text to embed identically")
	}
}

func TestHashingProvider_SimilarTextScoresHigher(t *testing.T) {
	p := NewHashingProvider(0)
	ctx := context.Background()
	base, _ := p.Embed(ctx, "printer jammed third floor")
	near, _ := p.Embed(ctx, "printer jammed second floor")
	far, _ := p.Embed(ctx, "payroll salary missing march")

	if CosineSimilarity(base, near) <= CosineSimilarity(base, far) {
		t.Error("expected overlapping text to score higher than unrelated text")
	}
}

func TestHashingProvider_EmptyText(t *testing.T) {
	p := NewHashingProvider(16)
	vec, err := p.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatal("expected zero vector for empty text")
		}
	}
}

func TestOpenAIProvider_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		var req openAIEmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Model != "text-embedding-3-small" {
			t.Errorf("expected default model, got %s", req.Model)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	vec, err := p.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("unexpected vector %v", vec)
	}
}

func TestOpenAIProvider_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "nope", BaseURL: srv.URL})
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for API error response")
	}
}

func TestOpenAIProvider_EmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL})
	_, err := p.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrEmptyEmbedding) {
		t.Errorf("expected ErrEmptyEmbedding, got %v", err)
	}
}

type countingProvider struct {
	calls atomic.Int32
	err   error
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return []float64{float64(len(text)), 1}, nil
}

func TestCachingProvider(t *testing.T) {
	base := &countingProvider{}
	p := NewCachingProvider(base, time.Minute, 10)
	defer p.Close()

	ctx := context.Background()
	p.Embed(ctx, "same text")
	p.Embed(ctx, "same text")
	p.Embed(ctx, "other text")

	if got := base.calls.Load(); got != 2 {
		t.Errorf("expected 2 upstream calls, got %d", got)
	}
}

func TestCachingProvider_DoesNotCacheErrors(t *testing.T) {
	base := &countingProvider{err: errors.New("upstream down")}
	p := NewCachingProvider(base, time.Minute, 10)
	defer p.Close()

	ctx := context.Background()
	if _, err := p.Embed(ctx, "text"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := p.Embed(ctx, "text"); err == nil {
		t.Fatal("expected error")
	}
	if got := base.calls.Load(); got != 2 {
		t.Errorf("expected errors to be retried upstream, got %d calls", got)
	}
}

func TestRateLimitedProvider_RespectsContext(t *testing.T) {
	base := &countingProvider{}
	p := NewRateLimitedProvider(base, 0.001, 1)

	ctx := context.Background()
	if _, err := p.Embed(ctx, "first"); err != nil {
		t.Fatalf("expected burst token to be available: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := p.Embed(ctx, "second"); err == nil {
		t.Error("expected rate limiter to give up when context expires")
	}
	if got := base.calls.Load(); got != 1 {
		t.Errorf("expected 1 upstream call, got %d", got)
	}
}

func TestBuild(t *testing.T) {
	base := &countingProvider{}
	p := Build(base, Options{CacheTTL: time.Minute, CacheMaxEntries: 5, RatePerSecond: 100, Burst: 10})

	if p.Name() != "counting" {
		t.Errorf("expected wrapped name, got %s", p.Name())
	}
	if _, ok := p.(*CachingProvider); !ok {
		t.Errorf("expected caching wrapper outermost, got %T", p)
	}

	ctx := context.Background()
	p.Embed(ctx, "x")
	p.Embed(ctx, "x")
	if got := base.calls.Load(); got != 1 {
		t.Errorf("expected 1 upstream call, got %d", got)
	}
}
