package imageflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient is a ProviderClient with pluggable behavior.
type mockClient struct {
	id           ProviderID
	GenerateFunc func(ctx context.Context, model ModelID, cred Credential, req *GenerationRequest) (*GeneratedImage, error)
	ModelsFunc   func() []ModelInfo
}

func (m *mockClient) ID() ProviderID { return m.id }

func (m *mockClient) Generate(ctx context.Context, model ModelID, cred Credential, req *GenerationRequest) (*GeneratedImage, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, model, cred, req)
	}
	return &GeneratedImage{Data: []byte("img"), MIMEType: "image/png"}, nil
}

func (m *mockClient) Models() []ModelInfo {
	if m.ModelsFunc != nil {
		return m.ModelsFunc()
	}
	return nil
}

func (m *mockClient) Close() error { return nil }

// call records one (model, credential) pair passed to the client.
type call struct {
	model ModelID
	cred  Credential
}

func testConfig(models []ModelID, creds []Credential, maxRetries int) Config {
	return Config{
		DefaultProvider: "mock",
		Providers: map[ProviderID]ProviderSettings{
			"mock": {
				Credentials: creds,
				Models:      models,
				CallTimeout: time.Second,
			},
		},
		Backoff: BackoffConfig{
			InitialDelay: time.Millisecond,
			SafetyBuffer: time.Millisecond,
			Ceiling:      20 * time.Second,
		},
		MaxRetries: maxRetries,
	}
}

func newTestOrchestrator(t *testing.T, cfg Config, client *mockClient, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(cfg, []ProviderClient{client}, opts...)
	require.NoError(t, err)
	return o
}

func createRequest() *GenerationRequest {
	return &GenerationRequest{Feature: FeatureCreate, Prompt: "a lighthouse at dusk"}
}

func TestRun_SuccessFirstAttempt(t *testing.T) {
	client := &mockClient{id: "mock"}
	o := newTestOrchestrator(t, testConfig([]ModelID{"m1"}, []Credential{"c1"}, 2), client)

	img, err := o.Run(context.Background(), createRequest())
	require.NoError(t, err)
	assert.True(t, img.Inline())
	assert.Equal(t, "image/png", img.MIMEType)
}

func TestRun_ModelConstantAcrossRateLimitRetries(t *testing.T) {
	var calls []call
	client := &mockClient{
		id: "mock",
		GenerateFunc: func(_ context.Context, model ModelID, cred Credential, _ *GenerationRequest) (*GeneratedImage, error) {
			calls = append(calls, call{model, cred})
			return nil, &AttemptError{Kind: KindRateLimited, Provider: "mock", Model: model, Detail: "throttled"}
		},
	}
	o := newTestOrchestrator(t, testConfig([]ModelID{"m1", "m2"}, []Credential{"c1", "c2"}, 1), client)
	o.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := o.Run(context.Background(), createRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCredentialsExhausted)

	// Rate limits retry the same model, then rotate credentials with the
	// model reset to primary. The chain never advances.
	want := []call{
		{"m1", "c1"}, {"m1", "c1"},
		{"m1", "c2"}, {"m1", "c2"},
	}
	assert.Equal(t, want, calls)

	var oe *OrchestrationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, KindRateLimited, oe.Kind)
	assert.Equal(t, 4, oe.Attempts)
}

func TestRun_ModelAdvancesOnAccessDenied(t *testing.T) {
	var calls []call
	client := &mockClient{
		id: "mock",
		GenerateFunc: func(_ context.Context, model ModelID, cred Credential, _ *GenerationRequest) (*GeneratedImage, error) {
			calls = append(calls, call{model, cred})
			if model == "m1" {
				return nil, &AttemptError{Kind: KindAccessDenied, Provider: "mock", Model: model, Detail: "forbidden"}
			}
			return &GeneratedImage{URL: "https://store.example/out.png"}, nil
		},
	}
	o := newTestOrchestrator(t, testConfig([]ModelID{"m1", "m2"}, []Credential{"c1"}, 2), client)

	img, err := o.Run(context.Background(), createRequest())
	require.NoError(t, err)
	assert.Equal(t, "https://store.example/out.png", img.URL)

	// The model advances on the very next attempt, same credential.
	assert.Equal(t, []call{{"m1", "c1"}, {"m2", "c1"}}, calls)
}

func TestRun_QuotaExhaustedRotatesImmediately(t *testing.T) {
	var calls []call
	client := &mockClient{
		id: "mock",
		GenerateFunc: func(_ context.Context, model ModelID, cred Credential, _ *GenerationRequest) (*GeneratedImage, error) {
			calls = append(calls, call{model, cred})
			if cred == "c1" {
				return nil, &AttemptError{Kind: KindQuotaExhausted, Provider: "mock", Model: model, Detail: "quota spent"}
			}
			return &GeneratedImage{Data: []byte("x"), MIMEType: "image/png"}, nil
		},
	}
	o := newTestOrchestrator(t, testConfig([]ModelID{"m1"}, []Credential{"c1", "c2"}, 3), client)

	_, err := o.Run(context.Background(), createRequest())
	require.NoError(t, err)

	// No backoff retries against a spent credential.
	assert.Equal(t, []call{{"m1", "c1"}, {"m1", "c2"}}, calls)
}

func TestRun_NoRetryOnTerminalKinds(t *testing.T) {
	for _, kind := range []FailureKind{KindContentRejected, KindMalformedResponse} {
		t.Run(string(kind), func(t *testing.T) {
			calls := 0
			client := &mockClient{
				id: "mock",
				GenerateFunc: func(_ context.Context, model ModelID, _ Credential, _ *GenerationRequest) (*GeneratedImage, error) {
					calls++
					return nil, &AttemptError{Kind: kind, Provider: "mock", Model: model, Detail: "terminal"}
				},
			}
			o := newTestOrchestrator(t, testConfig([]ModelID{"m1", "m2"}, []Credential{"c1", "c2"}, 3), client)

			_, err := o.Run(context.Background(), createRequest())
			require.Error(t, err)

			assert.Equal(t, 1, calls, "terminal kinds must produce exactly one attempt")
			var oe *OrchestrationError
			require.ErrorAs(t, err, &oe)
			assert.Equal(t, kind, oe.Kind)
		})
	}
}

func TestRun_SelfFallbackRetryBudget(t *testing.T) {
	// Two configured models [A, A], one credential, 2 retries, every call
	// rate limited with no suggested delay: exactly 3 attempts against A
	// with waits of initialDelay then 2x initialDelay, then exhaustion.
	calls := 0
	client := &mockClient{
		id: "mock",
		GenerateFunc: func(_ context.Context, model ModelID, _ Credential, _ *GenerationRequest) (*GeneratedImage, error) {
			calls++
			return nil, &AttemptError{Kind: KindRateLimited, Provider: "mock", Model: model, Detail: "throttled"}
		},
	}
	cfg := testConfig([]ModelID{"A", "A"}, []Credential{"c1"}, 2)
	cfg.Backoff = BackoffConfig{
		InitialDelay: 2000 * time.Millisecond,
		SafetyBuffer: time.Second,
		Ceiling:      20 * time.Second,
	}
	o := newTestOrchestrator(t, cfg, client)

	var waits []time.Duration
	o.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, err := o.Run(context.Background(), createRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCredentialsExhausted)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2000 * time.Millisecond, 4000 * time.Millisecond}, waits)
}

func TestRun_HighTrafficFailsFast(t *testing.T) {
	calls := 0
	client := &mockClient{
		id: "mock",
		GenerateFunc: func(_ context.Context, model ModelID, _ Credential, _ *GenerationRequest) (*GeneratedImage, error) {
			calls++
			return nil, &AttemptError{
				Kind:       KindRateLimited,
				Provider:   "mock",
				Model:      model,
				Detail:     "throttled",
				RetryAfter: 54 * time.Second,
			}
		},
	}
	o := newTestOrchestrator(t, testConfig([]ModelID{"m1"}, []Credential{"c1", "c2"}, 3), client)

	slept := false
	o.sleep = func(_ context.Context, _ time.Duration) error {
		slept = true
		return nil
	}

	_, err := o.Run(context.Background(), createRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHighTraffic)
	assert.Equal(t, 1, calls, "must not retry or rotate after a high-traffic verdict")
	assert.False(t, slept, "must not wait at all")

	var oe *OrchestrationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, KindRateLimited, oe.Kind)
}

func TestRun_TimeoutAdvancesModel(t *testing.T) {
	var calls []call
	client := &mockClient{
		id: "mock",
		GenerateFunc: func(ctx context.Context, model ModelID, cred Credential, _ *GenerationRequest) (*GeneratedImage, error) {
			calls = append(calls, call{model, cred})
			if model == "slow" {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return &GeneratedImage{Data: []byte("x"), MIMEType: "image/png"}, nil
		},
	}
	cfg := testConfig([]ModelID{"slow", "fast"}, []Credential{"c1"}, 2)
	ps := cfg.Providers["mock"]
	ps.CallTimeout = 25 * time.Millisecond
	cfg.Providers["mock"] = ps
	o := newTestOrchestrator(t, cfg, client)

	img, err := o.Run(context.Background(), createRequest())
	require.NoError(t, err)
	assert.True(t, img.Inline())
	assert.Equal(t, []call{{"slow", "c1"}, {"fast", "c1"}}, calls)
}

func TestRun_CallerCancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &mockClient{
		id: "mock",
		GenerateFunc: func(_ context.Context, model ModelID, _ Credential, _ *GenerationRequest) (*GeneratedImage, error) {
			cancel()
			return nil, &AttemptError{Kind: KindRateLimited, Provider: "mock", Model: model, Detail: "throttled"}
		},
	}
	o := newTestOrchestrator(t, testConfig([]ModelID{"m1"}, []Credential{"c1"}, 3), client)

	_, err := o.Run(ctx, createRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

type runKey struct{}

func TestRun_CredentialIsolationAcrossConcurrentRuns(t *testing.T) {
	var mu sync.Mutex
	creds := make(map[int][]Credential)

	client := &mockClient{
		id: "mock",
		GenerateFunc: func(ctx context.Context, model ModelID, cred Credential, _ *GenerationRequest) (*GeneratedImage, error) {
			run := ctx.Value(runKey{}).(int)
			mu.Lock()
			creds[run] = append(creds[run], cred)
			mu.Unlock()
			if cred == "c1" {
				return nil, &AttemptError{Kind: KindQuotaExhausted, Provider: "mock", Model: model, Detail: "quota spent"}
			}
			return &GeneratedImage{Data: []byte("x"), MIMEType: "image/png"}, nil
		},
	}
	o := newTestOrchestrator(t, testConfig([]ModelID{"m1"}, []Credential{"c1", "c2"}, 1), client)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(run int) {
			defer wg.Done()
			ctx := context.WithValue(context.Background(), runKey{}, run)
			_, err := o.Run(ctx, createRequest())
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Rotation cursors are per call: every run starts at the primary
	// credential regardless of what the others are doing.
	require.Len(t, creds, 4)
	for run, seen := range creds {
		assert.Equal(t, []Credential{"c1", "c2"}, seen, "run %d", run)
	}
}

func TestRun_CapabilityFiltering(t *testing.T) {
	client := &mockClient{
		id: "mock",
		ModelsFunc: func() []ModelInfo {
			return []ModelInfo{
				{ID: "gen-only", Capabilities: ModelCapabilities{SupportsTextToImage: true}},
				{ID: "editor", Capabilities: ModelCapabilities{
					SupportsTextToImage:  true,
					SupportsImageEditing: true,
				}},
			}
		},
		GenerateFunc: func(_ context.Context, model ModelID, _ Credential, _ *GenerationRequest) (*GeneratedImage, error) {
			return &GeneratedImage{Data: []byte("x"), MIMEType: "image/png"}, nil
		},
	}
	o := newTestOrchestrator(t, testConfig([]ModelID{"gen-only", "editor"}, []Credential{"c1"}, 1), client)

	req := &GenerationRequest{
		Feature: FeatureEdit,
		Prompt:  "make it night",
		Images:  []ImageRef{{Data: []byte("src"), MIMEType: "image/png"}},
	}

	var served []ModelID
	client.GenerateFunc = func(_ context.Context, model ModelID, _ Credential, _ *GenerationRequest) (*GeneratedImage, error) {
		served = append(served, model)
		return &GeneratedImage{Data: []byte("x"), MIMEType: "image/png"}, nil
	}

	_, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []ModelID{"editor"}, served)
}

func TestRun_NoEligibleModel(t *testing.T) {
	client := &mockClient{
		id: "mock",
		ModelsFunc: func() []ModelInfo {
			return []ModelInfo{
				{ID: "gen-only", Capabilities: ModelCapabilities{SupportsTextToImage: true}},
			}
		},
	}
	o := newTestOrchestrator(t, testConfig([]ModelID{"gen-only"}, []Credential{"c1"}, 1), client)

	req := &GenerationRequest{
		Feature: FeatureEdit,
		Prompt:  "make it night",
		Images:  []ImageRef{{Data: []byte("src"), MIMEType: "image/png"}},
	}

	_, err := o.Run(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoEligibleModel)

	var oe *OrchestrationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, KindModelUnavailable, oe.Kind)
}

func TestRun_UnknownProvider(t *testing.T) {
	client := &mockClient{id: "mock"}
	o := newTestOrchestrator(t, testConfig([]ModelID{"m1"}, []Credential{"c1"}, 1), client)

	req := createRequest()
	req.Provider = "nonexistent"

	_, err := o.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestRun_ValidatesRequest(t *testing.T) {
	client := &mockClient{id: "mock"}
	o := newTestOrchestrator(t, testConfig([]ModelID{"m1"}, []Credential{"c1"}, 1), client)

	_, err := o.Run(context.Background(), &GenerationRequest{Feature: FeatureCreate})
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = o.Run(context.Background(), &GenerationRequest{Feature: FeatureEdit, Prompt: "p"})
	assert.ErrorIs(t, err, ErrMissingImages)
}

func TestRun_NeverLeaksRawProviderErrors(t *testing.T) {
	rawErr := errors.New("socket: connection reset by provider internals")
	client := &mockClient{
		id: "mock",
		GenerateFunc: func(_ context.Context, _ ModelID, _ Credential, _ *GenerationRequest) (*GeneratedImage, error) {
			return nil, rawErr
		},
	}
	o := newTestOrchestrator(t, testConfig([]ModelID{"m1"}, []Credential{"c1"}, 1), client)

	_, err := o.Run(context.Background(), createRequest())
	require.Error(t, err)

	var oe *OrchestrationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, KindUnknown, oe.Kind)
	assert.NotContains(t, oe.Summary, "socket")
}
