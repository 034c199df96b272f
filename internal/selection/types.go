package selection

import (
	"errors"
	"time"
)

// Sentinel errors for the selection subsystem.
var (
	ErrValidation     = errors.New("invalid model definition")
	ErrDuplicateModel = errors.New("model already registered")
	ErrModelNotFound  = errors.New("model not found")
)

// Task types the selector understands.
const (
	TaskTextGeneration     = "text-generation"
	TaskClassification     = "classification"
	TaskSentimentAnalysis  = "sentiment-analysis"
	TaskEntityExtraction   = "entity-extraction"
	TaskTimeSeriesAnalysis = "time-series-analysis"
)

// Domains.
const (
	DomainGeneral    = "general"
	DomainFinancial  = "financial"
	DomainRegulatory = "regulatory"
	DomainMarket     = "market"
)

// Complexity tiers.
const (
	ComplexitySimple  = "simple"
	ComplexityMedium  = "medium"
	ComplexityComplex = "complex"
)

// Tier classifies a model's cost/capability profile.
type Tier string

const (
	// TierFast is the cheap, low-latency tier.
	TierFast Tier = "fast"
	// TierDeep is the high-capability, slow tier.
	TierDeep Tier = "deep"
	// TierSpecialist is the narrow-domain specialized tier.
	TierSpecialist Tier = "specialist"
	// TierGeneral is the default tier for custom registrations.
	TierGeneral Tier = "general"
)

// TaskProfile is the selector's view of a unit of work. It deliberately
// mirrors (but does not share) the supervisor's task model; the two
// subsystems are decoupled peers.
type TaskProfile struct {
	Type       string `json:"type"`
	Domain     string `json:"domain"`
	Complexity string `json:"complexity"`
	AgentRole  string `json:"agent_role"`
}

// Context carries runtime constraints that influence scoring.
type Context struct {
	TimeConstraintMs float64 `json:"time_constraint_ms,omitempty"`
	DataSize         int     `json:"data_size,omitempty"`
	AccuracyCritical bool    `json:"accuracy_critical,omitempty"`
	Explainability   bool    `json:"explainability,omitempty"`
}

// ParamSpec describes one configurable model parameter.
type ParamSpec struct {
	Type    string      `json:"type"`
	Default interface{} `json:"default"`
}

// ModelDefinition is descriptive metadata for a registered model.
type ModelDefinition struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Version      string               `json:"version"`
	Provider     string               `json:"provider"`
	Capabilities []string             `json:"capabilities"`
	Limitations  []string             `json:"limitations"`
	ConfigSchema map[string]ParamSpec `json:"config_schema"`
}

// Capabilities is the eligibility descriptor for a model: which tasks it
// may serve. Keyed by the same id as ModelDefinition but serving a
// different purpose (eligibility vs. metadata).
type Capabilities struct {
	TaskTypes        []string `json:"task_types"`
	Domains          []string `json:"domains"`
	ComplexityLevels []string `json:"complexity_levels"`
	AgentRoles       []string `json:"agent_roles"`
	Strengths        []string `json:"strengths"`
	Weaknesses       []string `json:"weaknesses"`
	Tier             Tier     `json:"tier"`
}

// Metrics is a point-in-time performance snapshot.
type Metrics struct {
	Accuracy       float64            `json:"accuracy"`
	LatencyMs      float64            `json:"latency_ms"`
	Throughput     float64            `json:"throughput"`
	CostPerRequest float64            `json:"cost_per_request"`
	ErrorRate      float64            `json:"error_rate"`
	Custom         map[string]float64 `json:"custom,omitempty"`
}

// PerformanceRecord is one logged execution outcome.
type PerformanceRecord struct {
	ModelID   string    `json:"model_id"`
	TaskType  string    `json:"task_type"`
	Metrics   Metrics   `json:"metrics"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// Thresholds are the health-classification limits.
type Thresholds struct {
	MinAccuracy  float64 `json:"min_accuracy"`
	MaxLatencyMs float64 `json:"max_latency_ms"`
	MaxErrorRate float64 `json:"max_error_rate"`
}

// HealthStatus classifies recent model performance.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ModelHealth is the result of a health query.
type ModelHealth struct {
	ModelID string       `json:"model_id"`
	Status  HealthStatus `json:"status"`
	Metrics Metrics      `json:"metrics"`
	Issues  []string     `json:"issues"`
}

// SelectedModel is a fully resolved selection: model metadata plus the
// per-request parameter overrides.
type SelectedModel struct {
	ModelID    string                 `json:"model_id"`
	Name       string                 `json:"name"`
	Version    string                 `json:"version"`
	Provider   string                 `json:"provider"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Options configures a selection Service.
type Options struct {
	DefaultModel  string
	FallbackChain []string
	Thresholds    Thresholds
	MaxRetries    int
}
