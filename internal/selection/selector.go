package selection

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultTimeConstraintMs normalizes a missing time constraint for the
// latency term of the performance score.
const defaultTimeConstraintMs = 10000

// Service is the model-selection engine: candidate filtering over the
// registry, multi-factor scoring against the tracker, fallback chains
// and configuration resolution. Constructed explicitly and passed down;
// there is no package-level instance.
type Service struct {
	registry *Registry
	tracker  *Tracker
	opts     Options
	logger   *zap.Logger
}

// NewService wires a selection service. The configured default model
// must be registered: selection is guaranteed never to come back
// empty-handed, and that guarantee starts here.
func NewService(opts Options, logger *zap.Logger) (*Service, error) {
	if opts.DefaultModel == "" {
		opts.DefaultModel = ModelSonnet
	}
	if len(opts.FallbackChain) == 0 {
		opts.FallbackChain = []string{ModelSonnet, ModelHaiku, ModelOpus}
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = Thresholds{MinAccuracy: 0.8, MaxLatencyMs: 5000, MaxErrorRate: 0.1}
	}

	registry := NewRegistry(logger)
	if _, ok := registry.Definition(opts.DefaultModel); !ok {
		return nil, fmt.Errorf("%w: default model %s", ErrModelNotFound, opts.DefaultModel)
	}

	return &Service{
		registry: registry,
		tracker:  NewTracker(opts.Thresholds, logger),
		opts:     opts,
		logger:   logger,
	}, nil
}

// Registry exposes the capability registry.
func (s *Service) Registry() *Registry { return s.registry }

// Tracker exposes the performance tracker.
func (s *Service) Tracker() *Tracker { return s.tracker }

// RegisterModel registers a custom model with an explicit capability
// declaration.
func (s *Service) RegisterModel(def ModelDefinition, caps Capabilities) (string, error) {
	return s.registry.Register(def, caps)
}

// RecordPerformance logs an execution outcome for a model.
func (s *Service) RecordPerformance(modelID, taskType string, m Metrics, success bool) {
	s.tracker.Record(modelID, taskType, m, success)
}

// ModelHealth classifies a model from its recent history.
func (s *Service) ModelHealth(modelID string) ModelHealth {
	return s.tracker.Health(modelID)
}

type scoredCandidate struct {
	id    string
	score float64
}

// SelectModel picks the best-scoring suitable model for a task and
// resolves its configuration. Internal failures degrade to the default
// model; the caller never sees an error while the default is registered.
func (s *Service) SelectModel(ctx context.Context, task TaskProfile, sc Context) (*SelectedModel, error) {
	selected, err := s.selectBest(ctx, task, sc)
	if err == nil {
		return selected, nil
	}
	s.logger.Warn("model selection failed, falling back to default",
		zap.String("task_type", task.Type),
		zap.Error(err))
	return s.ResolveConfiguration(s.opts.DefaultModel, task, sc)
}

func (s *Service) selectBest(ctx context.Context, task TaskProfile, sc Context) (*SelectedModel, error) {
	candidates := s.registry.Suitable(task)
	if len(candidates) == 0 {
		candidates = []string{s.opts.DefaultModel}
	}

	scored := make([]scoredCandidate, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range candidates {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			scored[i] = scoredCandidate{id: id, score: s.score(id, task, sc)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("score candidates: %w", err)
	}

	// Stable sort preserves registry insertion order on ties.
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	best := scored[0]
	s.logger.Debug("model selected",
		zap.String("model", best.id),
		zap.Float64("score", best.score),
		zap.Int("candidates", len(scored)))

	return s.ResolveConfiguration(best.id, task, sc)
}

// score computes the additive capability + performance + context score,
// then applies the health multiplier.
func (s *Service) score(modelID string, task TaskProfile, sc Context) float64 {
	caps, ok := s.registry.Caps(modelID)
	if !ok {
		return 0
	}

	total := capabilityScore(caps, task)
	total += s.performanceScore(modelID, task, sc)
	total += contextScore(caps.Tier, sc)

	switch s.tracker.Health(modelID).Status {
	case HealthDegraded:
		total *= 0.8
	case HealthUnhealthy:
		total *= 0.5
	}
	return total
}

// capabilityScore grants independent additive credit per matching
// dimension. Suitability filtering already required all four to pass;
// these points only rank eligible candidates against each other.
func capabilityScore(caps Capabilities, task TaskProfile) float64 {
	var score float64
	if contains(caps.TaskTypes, task.Type) {
		score += 30
	}
	if contains(caps.Domains, task.Domain) {
		score += 25
	}
	if contains(caps.ComplexityLevels, task.Complexity) {
		score += 20
	}
	if contains(caps.AgentRoles, task.AgentRole) {
		score += 25
	}
	return score
}

func (s *Service) performanceScore(modelID string, task TaskProfile, sc Context) float64 {
	history := s.tracker.RecentHistory(modelID, task.Type, defaultHistoryLimit)
	m := s.tracker.Aggregate(modelID, history)

	timeConstraint := sc.TimeConstraintMs
	if timeConstraint <= 0 {
		timeConstraint = defaultTimeConstraintMs
	}

	score := m.Accuracy * 30
	latencyScore := 20 - (m.LatencyMs/timeConstraint)*20
	if latencyScore < 0 {
		latencyScore = 0
	}
	score += latencyScore
	score -= m.ErrorRate * 50
	throughputScore := m.Throughput / 10
	if throughputScore > 10 {
		throughputScore = 10
	}
	score += throughputScore

	if score < 0 {
		score = 0
	}
	return score
}

// contextScore applies runtime-constraint heuristics on top of the
// static capability and historical performance terms.
func contextScore(tier Tier, sc Context) float64 {
	var score float64
	if sc.DataSize > 10000 && tier == TierFast {
		score -= 10
	}
	if sc.TimeConstraintMs > 0 && sc.TimeConstraintMs < 5000 && tier == TierDeep {
		score -= 5
	}
	if sc.AccuracyCritical && tier == TierDeep {
		score += 10
	}
	if sc.Explainability && tier != TierSpecialist {
		score += 5
	}
	return score
}

// FallbackModel finds a replacement after failedModelID failed, walking
// three degrading tiers: the configured chain, then every registered
// model, then the default (substituting when the default itself failed
// or is unregistered). Never empty-handed while a second model exists.
func (s *Service) FallbackModel(failedModelID string, task TaskProfile, sc Context) (*SelectedModel, error) {
	for _, id := range s.opts.FallbackChain {
		if id == failedModelID {
			continue
		}
		if caps, ok := s.registry.Caps(id); ok && IsSuitable(caps, task) {
			return s.ResolveConfiguration(id, task, sc)
		}
	}

	for _, id := range s.registry.IDs() {
		if id == failedModelID {
			continue
		}
		if caps, _ := s.registry.Caps(id); IsSuitable(caps, task) {
			return s.ResolveConfiguration(id, task, sc)
		}
	}

	fallback := s.opts.DefaultModel
	if fallback == failedModelID {
		for _, id := range s.opts.FallbackChain {
			if id != failedModelID {
				if _, ok := s.registry.Definition(id); ok {
					fallback = id
					break
				}
			}
		}
	}
	if _, ok := s.registry.Definition(fallback); !ok || fallback == failedModelID {
		for _, id := range s.registry.IDs() {
			if id != failedModelID {
				fallback = id
				break
			}
		}
	}

	s.logger.Warn("no suitable fallback for task, using degraded fallback",
		zap.String("failed", failedModelID),
		zap.String("fallback", fallback))
	return s.ResolveConfiguration(fallback, task, sc)
}

// ResolveConfiguration materializes the schema defaults for a model and
// derives per-request overrides from the task and context.
func (s *Service) ResolveConfiguration(modelID string, task TaskProfile, sc Context) (*SelectedModel, error) {
	def, ok := s.registry.Definition(modelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}
	caps, _ := s.registry.Caps(modelID)

	params := make(map[string]interface{}, len(def.ConfigSchema))
	for name, spec := range def.ConfigSchema {
		params[name] = spec.Default
	}

	// Temperature: tight for classification and accuracy-critical work,
	// loose for open text generation.
	switch {
	case task.Type == TaskClassification || sc.AccuracyCritical:
		params["temperature"] = 0.2
	case task.Type == TaskTextGeneration:
		params["temperature"] = 0.9
	}

	if task.Complexity == ComplexityComplex || sc.DataSize > 10000 {
		params["max_tokens"] = 8192
	}

	if caps.Tier == TierSpecialist && task.Domain != DomainGeneral {
		params["analysis_mode"] = "quantitative"
		params["include_risk_disclosures"] = true
	}

	return &SelectedModel{
		ModelID:    def.ID,
		Name:       def.Name,
		Version:    def.Version,
		Provider:   def.Provider,
		Parameters: params,
	}, nil
}
