package selection

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Registry holds model definitions and capability entries. Iteration
// order is insertion order; ties elsewhere are broken by it.
type Registry struct {
	mu           sync.RWMutex
	order        []string
	definitions  map[string]ModelDefinition
	capabilities map[string]Capabilities
	logger       *zap.Logger
}

// NewRegistry creates a registry pre-seeded with the built-in models.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		definitions:  make(map[string]ModelDefinition),
		capabilities: make(map[string]Capabilities),
		logger:       logger,
	}
	for _, b := range builtins() {
		r.insert(b.def, b.caps)
	}
	return r
}

// IsSuitable reports whether a capability entry can serve a task. All
// four dimensions must match.
func IsSuitable(caps Capabilities, task TaskProfile) bool {
	return contains(caps.TaskTypes, task.Type) &&
		contains(caps.Domains, task.Domain) &&
		contains(caps.ComplexityLevels, task.Complexity) &&
		contains(caps.AgentRoles, task.AgentRole)
}

// Register validates and inserts a custom model. The capability
// declaration is explicit and required; unset optional fields receive
// coarse defaults (domains general, complexity simple+medium, role
// research) that keep custom models second-class next to the built-ins.
func (r *Registry) Register(def ModelDefinition, caps Capabilities) (string, error) {
	if def.ID == "" || def.Name == "" || def.Version == "" || def.Provider == "" {
		return "", fmt.Errorf("%w: id, name, version and provider are required", ErrValidation)
	}
	if len(caps.TaskTypes) == 0 {
		return "", fmt.Errorf("%w: capability declaration must name at least one task type", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.definitions[def.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateModel, def.ID)
	}

	if len(caps.Domains) == 0 {
		caps.Domains = []string{DomainGeneral}
	}
	if len(caps.ComplexityLevels) == 0 {
		caps.ComplexityLevels = []string{ComplexitySimple, ComplexityMedium}
	}
	if len(caps.AgentRoles) == 0 {
		caps.AgentRoles = []string{"research"}
	}
	if caps.Tier == "" {
		caps.Tier = TierGeneral
	}
	if def.ConfigSchema == nil {
		def.ConfigSchema = defaultConfigSchema()
	}

	r.insert(def, caps)
	r.logger.Info("registered model",
		zap.String("id", def.ID),
		zap.String("provider", def.Provider))
	return def.ID, nil
}

// insert assumes the caller holds the lock (or is the constructor).
func (r *Registry) insert(def ModelDefinition, caps Capabilities) {
	r.order = append(r.order, def.ID)
	r.definitions[def.ID] = def
	r.capabilities[def.ID] = caps
}

// Definition returns the descriptive metadata for a model id.
func (r *Registry) Definition(id string) (ModelDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[id]
	return def, ok
}

// Caps returns the capability entry for a model id.
func (r *Registry) Caps(id string) (Capabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps, ok := r.capabilities[id]
	return caps, ok
}

// IDs returns all registered model ids in insertion order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Suitable returns the ids of all models whose capability entry matches
// the task, in insertion order.
func (r *Registry) Suitable(task TaskProfile) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, id := range r.order {
		if IsSuitable(r.capabilities[id], task) {
			out = append(out, id)
		}
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func defaultConfigSchema() map[string]ParamSpec {
	return map[string]ParamSpec{
		"temperature": {Type: "float", Default: 0.7},
		"max_tokens":  {Type: "int", Default: 4096},
		"top_p":       {Type: "float", Default: 0.9},
	}
}

type builtin struct {
	def  ModelDefinition
	caps Capabilities
}

const (
	// Built-in model ids.
	ModelSonnet = "claude-sonnet-4"
	ModelHaiku  = "claude-haiku-3.5"
	ModelOpus   = "claude-opus-4"
)

var allTaskTypes = []string{
	TaskTextGeneration, TaskClassification, TaskSentimentAnalysis,
	TaskEntityExtraction, TaskTimeSeriesAnalysis,
}

var allDomains = []string{DomainGeneral, DomainFinancial, DomainRegulatory, DomainMarket}

var allComplexity = []string{ComplexitySimple, ComplexityMedium, ComplexityComplex}

var allRoles = []string{"supervisor", "planning", "research", "analysis", "compliance", "synthesis"}

func builtins() []builtin {
	return []builtin{
		{
			def: ModelDefinition{
				ID:           ModelSonnet,
				Name:         "Claude Sonnet 4",
				Version:      "4.0",
				Provider:     "anthropic",
				Capabilities: []string{"financial-analysis", "structured-reasoning", "long-context"},
				Limitations:  []string{"cost-at-scale"},
				ConfigSchema: defaultConfigSchema(),
			},
			caps: Capabilities{
				TaskTypes:        allTaskTypes,
				Domains:          allDomains,
				ComplexityLevels: allComplexity,
				AgentRoles:       allRoles,
				Strengths:        []string{"financial-analysis", "structured-reasoning", "regulatory-context"},
				Weaknesses:       []string{"cost-at-scale"},
				Tier:             TierSpecialist,
			},
		},
		{
			def: ModelDefinition{
				ID:           ModelHaiku,
				Name:         "Claude Haiku 3.5",
				Version:      "3.5",
				Provider:     "anthropic",
				Capabilities: []string{"low-latency", "classification", "extraction"},
				Limitations:  []string{"deep-analysis", "long-context-reasoning"},
				ConfigSchema: defaultConfigSchema(),
			},
			caps: Capabilities{
				TaskTypes: []string{
					TaskTextGeneration, TaskClassification,
					TaskSentimentAnalysis, TaskEntityExtraction,
				},
				Domains:          []string{DomainGeneral, DomainFinancial, DomainMarket},
				ComplexityLevels: []string{ComplexitySimple, ComplexityMedium},
				AgentRoles:       []string{"supervisor", "planning", "research", "compliance", "synthesis"},
				Strengths:        []string{"latency", "throughput", "cost"},
				Weaknesses:       []string{"deep-analysis"},
				Tier:             TierFast,
			},
		},
		{
			def: ModelDefinition{
				ID:           ModelOpus,
				Name:         "Claude Opus 4",
				Version:      "4.0",
				Provider:     "anthropic",
				Capabilities: []string{"complex-reasoning", "research-synthesis"},
				Limitations:  []string{"latency", "cost"},
				ConfigSchema: defaultConfigSchema(),
			},
			caps: Capabilities{
				TaskTypes:        allTaskTypes,
				Domains:          allDomains,
				ComplexityLevels: []string{ComplexityMedium, ComplexityComplex},
				AgentRoles:       []string{"planning", "research", "analysis", "compliance", "synthesis"},
				Strengths:        []string{"complex-reasoning", "accuracy"},
				Weaknesses:       []string{"latency", "cost"},
				Tier:             TierDeep,
			},
		},
	}
}
