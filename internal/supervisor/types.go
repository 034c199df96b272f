package supervisor

import (
	"errors"
	"time"

	"github.com/arbiterhq/arbiter/internal/bus"
)

// Sentinel errors for the coordination engine.
var (
	ErrAgentNotFound   = errors.New("agent not found")
	ErrAgentAtCapacity = errors.New("agent at capacity")
)

// Role is a logical worker category, not necessarily a distinct process.
type Role string

const (
	RoleSupervisor Role = "supervisor"
	RolePlanning   Role = "planning"
	RoleResearch   Role = "research"
	RoleAnalysis   Role = "analysis"
	RoleCompliance Role = "compliance"
	RoleSynthesis  Role = "synthesis"
)

// Task types. These mirror the selection subsystem's vocabulary but the
// two data models are deliberately separate.
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

// TaskStatus tracks a task's lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether a status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is one unit of work owned by a conversation.
type Task struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	Domain        string                 `json:"domain"`
	Complexity    string                 `json:"complexity"`
	Priority      int                    `json:"priority"`
	AgentRole     Role                   `json:"agent_role"`
	Description   string                 `json:"description"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	DependsOn     []string               `json:"depends_on,omitempty"`
	Status        TaskStatus             `json:"status"`
	AssignedAgent string                 `json:"assigned_agent,omitempty"`
	Result        map[string]interface{} `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// PhaseCompleted is the terminal conversation phase.
const PhaseCompleted = "completed"

// PhasePlanning is the initial conversation phase.
const PhasePlanning = "planning"

// Conversation is the aggregate root for one user request. It lives in
// memory until cleanup removes it.
type Conversation struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"user_id"`
	RequestType string                 `json:"request_type"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Messages    []bus.Message          `json:"messages"`
	Tasks       []*Task                `json:"tasks"`
	Phase       string                 `json:"phase"`
	Metadata    map[string]interface{} `json:"metadata"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// PlanStatus tracks a coordination plan's lifecycle.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
)

// Phase is one named stage of a coordination plan.
type Phase struct {
	Name              string        `json:"name"`
	Tasks             []string      `json:"tasks"`
	DependsOn         []string      `json:"depends_on,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

// Plan is the phased breakdown for one conversation. Once phases begin
// only the status field changes.
type Plan struct {
	ConversationID string        `json:"conversation_id"`
	Phases         []Phase       `json:"phases"`
	Status         PlanStatus    `json:"status"`
	TotalEstimated time.Duration `json:"total_estimated"`
}

// Interpretation is the structured reading of a user request.
type Interpretation struct {
	Objectives   []string               `json:"objectives"`
	Deliverables []string               `json:"deliverables"`
	Constraints  map[string]interface{} `json:"constraints,omitempty"`
}

// ConflictType names a category of detected inconsistency.
type ConflictType string

const (
	ConflictRecommendation ConflictType = "recommendation-conflict"
	ConflictCompliance     ConflictType = "compliance-conflict"
)

// Conflict records divergent same-role task results within one
// conversation, and its eventual resolution. Never deleted.
type Conflict struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Type           ConflictType `json:"type"`
	InvolvedAgents []Role       `json:"involved_agents"`
	Description    string       `json:"description"`
	Strategy       string       `json:"strategy"`
	Resolution     string       `json:"resolution,omitempty"`
	ResolvedBy     string       `json:"resolved_by,omitempty"`
	ResolvedAt     time.Time    `json:"resolved_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// DelegationResult reports a delegation attempt. Delegation never
// returns an error; failures are carried here and on the task.
type DelegationResult struct {
	Success             bool      `json:"success"`
	TaskID              string    `json:"task_id"`
	AgentRole           Role      `json:"agent_role"`
	EstimatedCompletion time.Time `json:"estimated_completion,omitempty"`
	Error               string    `json:"error,omitempty"`
}
