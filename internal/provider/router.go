package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/storyloom/storyloom/internal/observability"
)

// Pipeline stages with dedicated model mappings. Stage names not present
// in a provider's table resolve to its default model.
const (
	StageOutline        = "outline"
	StageExpansion      = "expansion"
	StageAnalysis       = "analysis"
	StageContextSummary = "context-summary"
)

// Probe request sent by TestAll. A provider is healthy only when it echoes
// the acknowledgement exactly.
const (
	probePrompt = "Reply with exactly the single word READY to confirm the API is reachable."
	probeAck    = "READY"
)

// Profile describes one registered provider's model table.
type Profile struct {
	// DefaultModel is used for unknown stages and for health probes.
	DefaultModel string

	// StageModels maps stage names to model ids.
	StageModels map[string]string
}

// Router holds one resilient client per provider and resolves
// (stage -> model id) against each provider's table. The default provider
// may be switched at runtime; client errors from Invoke are propagated
// unchanged.
type Router struct {
	mu              sync.RWMutex
	defaultProvider string
	clients         map[string]*Client
	profiles        map[string]Profile
	logger          *observability.Logger
}

// NewRouter creates a router over the given clients and profiles. Both
// maps must share the same keys.
func NewRouter(defaultProvider string, clients map[string]*Client, profiles map[string]Profile, logger *observability.Logger) *Router {
	return &Router{
		defaultProvider: defaultProvider,
		clients:         clients,
		profiles:        profiles,
		logger:          logger,
	}
}

// Default returns the current default provider id.
func (r *Router) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultProvider
}

// SwitchDefault changes the provider used by Invoke calls that name none.
func (r *Router) SwitchDefault(provider string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[provider]; !ok {
		return &UnknownProviderError{Provider: provider}
	}
	r.defaultProvider = provider
	r.logger.Info(context.Background(), "default provider switched", "provider", provider)
	return nil
}

// ResolveModel returns the model id for a stage on the given provider.
// Unknown stages fall back to the provider's default model; unknown
// providers fail.
func (r *Router) ResolveModel(provider, stage string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.profiles[provider]
	if !ok {
		return "", &UnknownProviderError{Provider: provider}
	}
	if model, ok := profile.StageModels[stage]; ok && model != "" {
		return model, nil
	}
	return profile.DefaultModel, nil
}

// InvokeOptions select the provider and model for one Invoke call. All
// fields are optional: an empty Provider means the current default, an
// empty Model is resolved from Stage (or the provider's default model).
type InvokeOptions struct {
	Provider string
	Model    string
	Stage    string
	Params   Params
}

// Invoke resolves provider and model, then delegates to that provider's
// client. The client's result and errors are returned untouched.
func (r *Router) Invoke(ctx context.Context, opts InvokeOptions, messages []Message) (string, error) {
	r.mu.RLock()
	provider := opts.Provider
	if provider == "" {
		provider = r.defaultProvider
	}
	client, ok := r.clients[provider]
	r.mu.RUnlock()
	if !ok {
		return "", &UnknownProviderError{Provider: provider}
	}

	model := opts.Model
	if model == "" {
		resolved, err := r.ResolveModel(provider, opts.Stage)
		if err != nil {
			return "", err
		}
		model = resolved
	}

	return client.Chat(ctx, model, messages, opts.Params)
}

// TestAll probes every registered provider with a minimal request and
// reports reachability. Any error, including an open circuit breaker, is
// reported as false; TestAll itself never fails.
func (r *Router) TestAll(ctx context.Context) map[string]bool {
	r.mu.RLock()
	clients := make(map[string]*Client, len(r.clients))
	for name, client := range r.clients {
		clients[name] = client
	}
	r.mu.RUnlock()

	results := make(map[string]bool, len(clients))
	for name, client := range clients {
		model, err := r.ResolveModel(name, "")
		if err != nil {
			results[name] = false
			continue
		}
		text, err := client.Chat(ctx, model,
			[]Message{{Role: RoleUser, Content: probePrompt}},
			Params{MaxTokens: 8})
		if err != nil {
			r.logger.Warn(ctx, "provider probe failed", "provider", name, "error", err.Error())
			results[name] = false
			continue
		}
		results[name] = strings.TrimSpace(text) == probeAck
	}
	return results
}

// Providers returns the registered provider ids.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}
