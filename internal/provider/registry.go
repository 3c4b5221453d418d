package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"dispatchd/internal/domain"
	"dispatchd/internal/domain/models"
)

// Registry buckets model descriptors by tier, routes a request to the
// cheapest available model in the chosen tier, and escalates across
// models/tiers on terminal provider failure (§4.4).
type Registry struct {
	mu      sync.RWMutex
	byTier  map[models.Tier][]models.ModelDescriptor
	clients map[string]Client

	longContextThreshold int
	complexityThreshold  float64

	retryMax   int
	retryBase  time.Duration
	retryCap   time.Duration

	logger *slog.Logger
}

// Config bundles the routing thresholds from §4.4.
type Config struct {
	LongContextThreshold int
	ComplexityThreshold  float64
	RetryMax             int
	RetryBaseDelay       time.Duration
	RetryCapDelay        time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 250 * time.Millisecond
	}
	if cfg.RetryCapDelay == 0 {
		cfg.RetryCapDelay = 4 * time.Second
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 2
	}
	return &Registry{
		byTier:               make(map[models.Tier][]models.ModelDescriptor),
		clients:              make(map[string]Client),
		longContextThreshold: cfg.LongContextThreshold,
		complexityThreshold:  cfg.ComplexityThreshold,
		retryMax:             cfg.RetryMax,
		retryBase:            cfg.RetryBaseDelay,
		retryCap:             cfg.RetryCapDelay,
		logger:               logger,
	}
}

// RegisterModel adds md to its tier bucket.
func (r *Registry) RegisterModel(md models.ModelDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	md.Available = true
	r.byTier[md.Tier] = append(r.byTier[md.Tier], md)
}

// RegisterClient binds a Client implementation to a provider id.
func (r *Registry) RegisterClient(providerID string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[providerID] = c
}

type modelDescriptorFile struct {
	Models []models.ModelDescriptor `yaml:"models"`
}

// LoadFile parses a YAML model-descriptor file (configs/models.yaml),
// mirroring toolregistry.Registry.LoadFile's shape (§4.4: "Models are
// ... loaded at startup"). Only descriptors whose provider_id already
// has a registered Client are bucketed — RegisterClient must run first
// so the registry never advertises a model it has nothing to dispatch
// it to.
func (r *Registry) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read model descriptors: %w", err)
	}

	var doc modelDescriptorFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse model descriptors: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, md := range doc.Models {
		if _, ok := r.clients[md.ProviderID]; !ok {
			continue
		}
		md.Available = true
		r.byTier[md.Tier] = append(r.byTier[md.Tier], md)
	}
	return nil
}

// markUnavailable flips a model's availability under the registry's own
// short critical section, per the shared-resource policy (§5): "The
// provider registry's availability map is updated under a short critical
// section on failure; readers see a consistent snapshot."
func (r *Registry) markUnavailable(tier models.Tier, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, md := range r.byTier[tier] {
		if md.Name == name {
			r.byTier[tier][i].Available = false
		}
	}
}

// SelectTier implements steps 2-4 of the selection algorithm (§4.4).
func (r *Registry) SelectTier(estimatedInputTokens int, complexityScore float64) models.Tier {
	if estimatedInputTokens > r.longContextThreshold {
		return models.TierLongContext
	}
	if complexityScore > r.complexityThreshold {
		return models.TierComplex
	}
	return models.TierManager
}

// selectInTier picks the lowest-cost available model satisfying
// requiredCaps, tie-breaking by larger context window then lexicographic
// name (§4.4 step 5).
func (r *Registry) selectInTier(tier models.Tier, requiredCaps []models.Capability) (models.ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]models.ModelDescriptor, 0, len(r.byTier[tier]))
	for _, md := range r.byTier[tier] {
		if !md.Available {
			continue
		}
		ok := true
		for _, cap := range requiredCaps {
			if !md.SupportsCapability(cap) {
				ok = false
				break
			}
		}
		if ok {
			candidates = append(candidates, md)
		}
	}
	if len(candidates) == 0 {
		return models.ModelDescriptor{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.CostPerToken != b.CostPerToken {
			return a.CostPerToken < b.CostPerToken
		}
		if a.ContextWindow != b.ContextWindow {
			return a.ContextWindow > b.ContextWindow
		}
		return a.Name < b.Name
	})
	return candidates[0], true
}

// findExplicit looks up an explicitly requested model by name across all
// tiers (§4.4 step 1).
func (r *Registry) findExplicit(name string) (models.ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, bucket := range r.byTier {
		for _, md := range bucket {
			if md.Name == name && md.Available {
				return md, true
			}
		}
	}
	return models.ModelDescriptor{}, false
}

func (r *Registry) clientFor(providerID string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[providerID]
	return c, ok
}

var tierEscalation = map[models.Tier]models.Tier{
	models.TierManager: models.TierComplex,
	models.TierComplex: models.TierLongContext,
}

// Dispatch runs the full selection → call → escalation pipeline for one
// request and returns the completion plus the model that ultimately
// served it.
func (r *Registry) Dispatch(ctx context.Context, explicitModel string, estimatedInputTokens int, complexityScore float64, requiredCaps []models.Capability, messages []Message, opts CallOptions) (Result, models.ModelDescriptor, error) {
	var md models.ModelDescriptor
	var ok bool

	if explicitModel != "" {
		md, ok = r.findExplicit(explicitModel)
	}
	tier := r.SelectTier(estimatedInputTokens, complexityScore)
	if !ok {
		md, ok = r.selectInTier(tier, requiredCaps)
	}
	if !ok {
		return Result{}, models.ModelDescriptor{}, domain.New(domain.KindCapabilityUnavailable, "no available model satisfies required capabilities")
	}
	return r.dispatchFrom(ctx, md, requiredCaps, messages, opts)
}

// DispatchTier runs the same call→escalation pipeline as Dispatch but
// selects the starting model directly from tier instead of deriving a
// tier from a complexity score — for calls whose tier is fixed by
// configuration rather than per-request heuristics (e.g. the workflow
// frame's expert-validation tier, §4.7).
func (r *Registry) DispatchTier(ctx context.Context, tier models.Tier, requiredCaps []models.Capability, messages []Message, opts CallOptions) (Result, models.ModelDescriptor, error) {
	md, ok := r.selectInTier(tier, requiredCaps)
	if !ok {
		return Result{}, models.ModelDescriptor{}, domain.New(domain.KindCapabilityUnavailable, "no available model satisfies required capabilities")
	}
	return r.dispatchFrom(ctx, md, requiredCaps, messages, opts)
}

// dispatchFrom runs the call→escalation loop (§4.4 "Escalation")
// starting from md.
func (r *Registry) dispatchFrom(ctx context.Context, md models.ModelDescriptor, requiredCaps []models.Capability, messages []Message, opts CallOptions) (Result, models.ModelDescriptor, error) {
	escalated := false
	for {
		res, err := r.callWithRetry(ctx, md, messages, opts)
		if err == nil {
			return res, md, nil
		}

		if domain.KindOf(err) != domain.KindProviderError || escalated {
			return Result{}, md, err
		}

		r.markUnavailable(md.Tier, md.Name)
		next, ok := r.selectInTier(md.Tier, requiredCaps)
		if !ok {
			if nextTier, hasNext := tierEscalation[md.Tier]; hasNext {
				next, ok = r.selectInTier(nextTier, requiredCaps)
			}
		}
		if !ok {
			return Result{}, md, err
		}

		r.logger.Warn("escalating after terminal provider failure", "from_model", md.Name, "to_model", next.Name)
		md = next
		escalated = true
	}
}

// callWithRetry retries retriable failures on the same model with
// exponential backoff and jitter (base 250ms, cap 4s — §4.4
// "Escalation").
func (r *Registry) callWithRetry(ctx context.Context, md models.ModelDescriptor, messages []Message, opts CallOptions) (Result, error) {
	c, ok := r.clientFor(md.ProviderID)
	if !ok {
		return Result{}, domain.New(domain.KindProviderError, "no client registered for provider "+md.ProviderID)
	}

	var lastErr error
	for attempt := 0; attempt <= r.retryMax; attempt++ {
		res, err := c.Call(ctx, md, messages, opts)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !isRetriable(err) || attempt == r.retryMax {
			return Result{}, domain.Wrap(domain.KindProviderError, "provider call failed", err)
		}

		delay := backoff(attempt, r.retryBase, r.retryCap)
		select {
		case <-ctx.Done():
			return Result{}, domain.Wrap(domain.KindTimeout, "context cancelled during retry backoff", ctx.Err())
		case <-time.After(delay):
		}
	}
	return Result{}, domain.Wrap(domain.KindProviderError, "provider call exhausted retries", lastErr)
}

func backoff(attempt int, base, cap time.Duration) time.Duration {
	d := base << uint(attempt)
	if d > cap || d <= 0 {
		d = cap
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d/2 + jitter
}

// isRetriable classifies network, 5xx, and timeout errors as retriable
// per §4.4. Authentication, invalid-request, and model-not-found errors
// are terminal and fall through to escalation instead.
func isRetriable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
