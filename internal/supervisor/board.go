package supervisor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AgentState is an agent's availability on the status board.
type AgentState string

const (
	AgentIdle AgentState = "idle"
	AgentBusy AgentState = "busy"
)

// AgentCapability is the immutable descriptor of what a role can take on.
type AgentCapability struct {
	TaskTypes       []string      `json:"task_types"`
	MaxConcurrent   int           `json:"max_concurrent"`
	AvgProcessing   time.Duration `json:"avg_processing"`
	Reliability     float64       `json:"reliability"`
	Specializations []string      `json:"specializations"`
}

// AgentStatus is the mutable per-role entry on the board.
type AgentStatus struct {
	Role         Role            `json:"role"`
	State        AgentState      `json:"state"`
	CurrentTasks []string        `json:"current_tasks"`
	LastActivity time.Time       `json:"last_activity"`
	Capability   AgentCapability `json:"capability"`
}

// roleCapabilities is the fixed seed table: one entry per known role.
var roleCapabilities = map[Role]AgentCapability{
	RoleSupervisor: {
		TaskTypes:       []string{TaskTextGeneration},
		MaxConcurrent:   10,
		AvgProcessing:   1 * time.Second,
		Reliability:     0.99,
		Specializations: []string{"coordination", "delegation"},
	},
	RolePlanning: {
		TaskTypes:       []string{TaskTextGeneration},
		MaxConcurrent:   3,
		AvgProcessing:   2 * time.Second,
		Reliability:     0.95,
		Specializations: []string{"strategy", "decomposition"},
	},
	RoleResearch: {
		TaskTypes:       []string{TaskTextGeneration, TaskEntityExtraction},
		MaxConcurrent:   5,
		AvgProcessing:   3 * time.Second,
		Reliability:     0.92,
		Specializations: []string{"market-data", "fundamentals"},
	},
	RoleAnalysis: {
		TaskTypes:       []string{TaskTimeSeriesAnalysis, TaskSentimentAnalysis},
		MaxConcurrent:   4,
		AvgProcessing:   4 * time.Second,
		Reliability:     0.94,
		Specializations: []string{"time-series", "portfolio"},
	},
	RoleCompliance: {
		TaskTypes:       []string{TaskClassification},
		MaxConcurrent:   3,
		AvgProcessing:   2 * time.Second,
		Reliability:     0.97,
		Specializations: []string{"regulatory", "risk-assessment"},
	},
	RoleSynthesis: {
		TaskTypes:       []string{TaskTextGeneration},
		MaxConcurrent:   2,
		AvgProcessing:   3 * time.Second,
		Reliability:     0.93,
		Specializations: []string{"reporting", "aggregation"},
	},
}

// Board tracks per-role agent availability. Delegation and completion
// both mutate it, so every entry change happens under the lock.
type Board struct {
	mu     sync.RWMutex
	agents map[Role]*AgentStatus
	logger *zap.Logger
}

// NewBoard seeds a status board with one idle entry per known role.
func NewBoard(logger *zap.Logger) *Board {
	agents := make(map[Role]*AgentStatus, len(roleCapabilities))
	for role, capability := range roleCapabilities {
		agents[role] = &AgentStatus{
			Role:         role,
			State:        AgentIdle,
			CurrentTasks: []string{},
			LastActivity: time.Now(),
			Capability:   capability,
		}
	}
	return &Board{agents: agents, logger: logger}
}

// Get returns a copy of a role's status.
func (b *Board) Get(role Role) (AgentStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.agents[role]
	if !ok {
		return AgentStatus{}, false
	}
	return b.snapshot(st), true
}

// All returns copies of every entry.
func (b *Board) All() []AgentStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]AgentStatus, 0, len(b.agents))
	for _, st := range b.agents {
		out = append(out, b.snapshot(st))
	}
	return out
}

// Assign books a task onto a role. A busy agent below its concurrency
// limit still accepts work; only busy-and-full rejects.
func (b *Board) Assign(role Role, taskID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.agents[role]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, role)
	}
	if st.State == AgentBusy && len(st.CurrentTasks) >= st.Capability.MaxConcurrent {
		return fmt.Errorf("%w: %s", ErrAgentAtCapacity, role)
	}

	st.CurrentTasks = append(st.CurrentTasks, taskID)
	st.State = AgentBusy
	st.LastActivity = time.Now()

	b.logger.Debug("task assigned",
		zap.String("role", string(role)),
		zap.String("task", taskID),
		zap.Int("load", len(st.CurrentTasks)))
	return nil
}

// Release removes a task from a role; the agent goes idle when its last
// task is released.
func (b *Board) Release(role Role, taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.agents[role]
	if !ok {
		return
	}
	for i, id := range st.CurrentTasks {
		if id == taskID {
			st.CurrentTasks = append(st.CurrentTasks[:i], st.CurrentTasks[i+1:]...)
			break
		}
	}
	if len(st.CurrentTasks) == 0 {
		st.State = AgentIdle
	}
	st.LastActivity = time.Now()
}

func (b *Board) snapshot(st *AgentStatus) AgentStatus {
	cp := *st
	cp.CurrentTasks = make([]string, len(st.CurrentTasks))
	copy(cp.CurrentTasks, st.CurrentTasks)
	return cp
}
