package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/bus"
	"github.com/arbiterhq/arbiter/internal/provider"
)

// Archiver persists terminal conversations on cleanup. The core never
// reads archived state back; durability is a one-way boundary.
type Archiver interface {
	ArchiveConversation(ctx context.Context, conv *Conversation, conflicts []*Conflict) error
}

// Options configures a Coordinator.
type Options struct {
	// PhaseTimeout bounds how long a phase may wait for its tasks.
	PhaseTimeout time.Duration
	// SimulatedDelay, when positive, overrides the per-agent average
	// processing time used by the simulated executor.
	SimulatedDelay time.Duration
	// ComplianceConflicts enables symmetric conflict detection over
	// compliance rulings, an extension beyond recommendation conflicts.
	ComplianceConflicts bool
}

// Coordinator owns per-conversation state and drives the workflow:
// interpret request, build a phased plan, delegate each phase's tasks,
// await completion, resolve conflicts, advance. Conversations are
// independent and may be processed concurrently; within one
// conversation phases run strictly in order.
type Coordinator struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	resolutions   map[string]*Conflict
	waiters       map[string]chan struct{}

	board     *Board
	queue     *bus.Queue
	completer provider.Completer
	executor  Executor
	archiver  Archiver
	opts      Options
	logger    *zap.Logger
}

// NewCoordinator creates a coordinator with a freshly seeded status
// board and the simulated executor.
func NewCoordinator(completer provider.Completer, queue *bus.Queue, opts Options, logger *zap.Logger) *Coordinator {
	if opts.PhaseTimeout <= 0 {
		opts.PhaseTimeout = 2 * time.Minute
	}
	return &Coordinator{
		conversations: make(map[string]*Conversation),
		resolutions:   make(map[string]*Conflict),
		waiters:       make(map[string]chan struct{}),
		board:         NewBoard(logger),
		queue:         queue,
		completer:     completer,
		executor:      SimulatedExecutor{},
		opts:          opts,
		logger:        logger,
	}
}

// SetExecutor swaps the execution collaborator.
func (c *Coordinator) SetExecutor(e Executor) { c.executor = e }

// SetArchiver attaches a conversation archiver used during cleanup.
func (c *Coordinator) SetArchiver(a Archiver) { c.archiver = a }

// Board exposes the agent status board.
func (c *Coordinator) Board() *Board { return c.board }

// ProcessRequest runs the whole pipeline for one user request and
// always returns a snapshot of the conversation, complete or not.
// Failures do not propagate: callers must inspect metadata["error"].
func (c *Coordinator) ProcessRequest(ctx context.Context, userID, requestType string, params map[string]interface{}) *Conversation {
	now := time.Now()
	conv := &Conversation{
		ID:          uuid.New().String(),
		UserID:      userID,
		RequestType: requestType,
		Parameters:  params,
		Phase:       PhasePlanning,
		Metadata:    make(map[string]interface{}),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	c.mu.Lock()
	c.conversations[conv.ID] = conv
	c.mu.Unlock()

	c.logger.Info("processing request",
		zap.String("conversation", conv.ID),
		zap.String("user", userID),
		zap.String("type", requestType))

	err := c.runPipeline(ctx, conv, requestType, params)

	c.mu.Lock()
	conv.Phase = PhaseCompleted
	if err != nil {
		conv.Metadata["error"] = err.Error()
	}
	conv.UpdatedAt = time.Now()
	snap := snapshotConversation(conv)
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("request finished with error",
			zap.String("conversation", conv.ID),
			zap.Error(err))
	}
	return snap
}

func (c *Coordinator) runPipeline(ctx context.Context, conv *Conversation, requestType string, params map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	interp := c.interpret(ctx, requestType, params)
	plan := c.createPlan(ctx, conv.ID, interp)
	return c.executePlan(ctx, conv, plan)
}

const interpretPrompt = `You are the supervisor of an investment-analysis agent team.
Interpret the following request and respond with a single JSON object
containing "objectives" (array of strings), "deliverables" (array of
strings) and "constraints" (object).

Request type: %s
Parameters: %s`

// interpret asks the completion service for a structured reading of the
// request. Provider failures and unparsable responses both degrade to a
// generic interpretation; this step never fails the request.
func (c *Coordinator) interpret(ctx context.Context, requestType string, params map[string]interface{}) Interpretation {
	paramsJSON, _ := json.Marshal(params)
	resp, err := c.completer.Complete(ctx, &provider.CompletionRequest{
		Prompt:      fmt.Sprintf(interpretPrompt, requestType, paramsJSON),
		MaxTokens:   1024,
		Temperature: 0.2,
	})
	if err != nil {
		c.logger.Warn("interpretation call failed, using fallback", zap.Error(err))
		return fallbackInterpretation()
	}

	interp, perr := parseInterpretation(resp.Completion)
	if perr != nil {
		c.logger.Debug("interpretation unparsable, using fallback", zap.Error(perr))
		return fallbackInterpretation()
	}
	return interp
}

func parseInterpretation(raw string) (Interpretation, error) {
	var interp Interpretation
	if err := json.Unmarshal([]byte(raw), &interp); err != nil {
		return Interpretation{}, fmt.Errorf("parse interpretation: %w", err)
	}
	if len(interp.Objectives) == 0 {
		return Interpretation{}, errors.New("interpretation missing objectives")
	}
	return interp, nil
}

func fallbackInterpretation() Interpretation {
	return Interpretation{
		Objectives:   []string{"Generate investment insights"},
		Deliverables: []string{"summary report", "key findings", "recommendations"},
	}
}

const planPrompt = `You are the supervisor of an investment-analysis agent team with
five worker roles: planning, research, analysis, compliance, synthesis.
Break the following objectives into ordered phases. Respond with a
single JSON object: {"phases":[{"name":"...","tasks":["..."],
"depends_on":["..."],"estimated_duration_ms":0}]}.

Objectives: %s
Deliverables: %s`

// createPlan asks the completion service for a phase breakdown and
// falls back to the fixed five-phase default when the response is
// missing or unusable.
func (c *Coordinator) createPlan(ctx context.Context, conversationID string, interp Interpretation) *Plan {
	objectives, _ := json.Marshal(interp.Objectives)
	deliverables, _ := json.Marshal(interp.Deliverables)
	resp, err := c.completer.Complete(ctx, &provider.CompletionRequest{
		Prompt:      fmt.Sprintf(planPrompt, objectives, deliverables),
		MaxTokens:   2048,
		Temperature: 0.3,
	})
	if err != nil {
		c.logger.Warn("planning call failed, using default plan", zap.Error(err))
		return defaultPlan(conversationID)
	}

	plan, perr := parsePlan(conversationID, resp.Completion)
	if perr != nil {
		c.logger.Debug("plan unparsable, using default plan", zap.Error(perr))
		return defaultPlan(conversationID)
	}
	return plan
}

func parsePlan(conversationID, raw string) (*Plan, error) {
	var parsed struct {
		Phases []struct {
			Name                string   `json:"name"`
			Tasks               []string `json:"tasks"`
			DependsOn           []string `json:"depends_on"`
			EstimatedDurationMs int64    `json:"estimated_duration_ms"`
		} `json:"phases"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(parsed.Phases) == 0 {
		return nil, errors.New("plan has no phases")
	}

	plan := &Plan{ConversationID: conversationID, Status: PlanDraft}
	for _, p := range parsed.Phases {
		if p.Name == "" || len(p.Tasks) == 0 {
			return nil, fmt.Errorf("plan phase %q incomplete", p.Name)
		}
		d := time.Duration(p.EstimatedDurationMs) * time.Millisecond
		plan.Phases = append(plan.Phases, Phase{
			Name:              p.Name,
			Tasks:             p.Tasks,
			DependsOn:         p.DependsOn,
			EstimatedDuration: d,
		})
		plan.TotalEstimated += d
	}
	return plan, nil
}

// defaultPlan is the fixed five-phase breakdown used whenever the
// planning call cannot produce one. Phase names, task wording,
// dependencies and durations are contractual: downstream routing and
// callers depend on them.
func defaultPlan(conversationID string) *Plan {
	phases := []Phase{
		{
			Name:              "planning",
			Tasks:             []string{"Plan analysis approach", "Define scope and objectives"},
			EstimatedDuration: 10 * time.Second,
		},
		{
			Name:              "research",
			Tasks:             []string{"Gather market data", "Research company fundamentals"},
			DependsOn:         []string{"planning"},
			EstimatedDuration: 20 * time.Second,
		},
		{
			Name:              "analysis",
			Tasks:             []string{"Analyze market trends", "Analyze portfolio performance"},
			DependsOn:         []string{"research"},
			EstimatedDuration: 15 * time.Second,
		},
		{
			Name:              "compliance",
			Tasks:             []string{"Check regulatory compliance", "Assess risk exposure"},
			DependsOn:         []string{"analysis"},
			EstimatedDuration: 10 * time.Second,
		},
		{
			Name:              "synthesis",
			Tasks:             []string{"Synthesize findings", "Present recommendations"},
			DependsOn:         []string{"analysis", "compliance"},
			EstimatedDuration: 15 * time.Second,
		},
	}

	plan := &Plan{ConversationID: conversationID, Status: PlanDraft}
	for _, p := range phases {
		plan.TotalEstimated += p.EstimatedDuration
	}
	plan.Phases = phases
	return plan
}

// executePlan runs phases strictly in order: create the phase's tasks,
// delegate them concurrently, join on completion, then run a conflict
// pass before advancing.
func (c *Coordinator) executePlan(ctx context.Context, conv *Conversation, plan *Plan) error {
	plan.Status = PlanActive

	for i, phase := range plan.Phases {
		now := time.Now()
		c.mu.Lock()
		conv.Phase = phase.Name
		conv.UpdatedAt = now
		tasks := make([]*Task, 0, len(phase.Tasks))
		for _, desc := range phase.Tasks {
			t := &Task{
				ID:          uuid.New().String(),
				Type:        InferTaskType(desc),
				Domain:      InferDomain(desc),
				Complexity:  ComplexityMedium,
				Priority:    i + 1,
				AgentRole:   InferAgentRole(desc),
				Description: desc,
				DependsOn:   append([]string(nil), phase.DependsOn...),
				Status:      TaskPending,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			conv.Tasks = append(conv.Tasks, t)
			c.waiters[t.ID] = make(chan struct{})
			tasks = append(tasks, t)
		}
		c.mu.Unlock()

		c.logger.Info("phase started",
			zap.String("conversation", conv.ID),
			zap.String("phase", phase.Name),
			zap.Int("tasks", len(tasks)))

		// Scatter delegation; each attempt records its own outcome.
		var wg sync.WaitGroup
		for _, t := range tasks {
			wg.Add(1)
			go func(t *Task) {
				defer wg.Done()
				c.DelegateTask(ctx, conv, t)
			}(t)
		}
		wg.Wait()

		if err := c.waitForTasks(ctx, tasks); err != nil {
			return fmt.Errorf("phase %s: %w", phase.Name, err)
		}

		c.CheckAndResolveConflicts(ctx, conv.ID)
	}

	c.mu.Lock()
	conv.Phase = PhaseCompleted
	conv.UpdatedAt = time.Now()
	c.mu.Unlock()
	plan.Status = PlanCompleted
	return nil
}

// DelegateTask hands a task to its target role. It never returns an
// error: rejections and failures are recorded on the task and in the
// result.
func (c *Coordinator) DelegateTask(ctx context.Context, conv *Conversation, task *Task) DelegationResult {
	role := task.AgentRole

	st, ok := c.board.Get(role)
	if !ok {
		msg := fmt.Sprintf("%v: %s", ErrAgentNotFound, role)
		c.failTask(conv, task, msg)
		return DelegationResult{Success: false, TaskID: task.ID, AgentRole: role, Error: msg}
	}

	if err := c.board.Assign(role, task.ID); err != nil {
		msg := err.Error()
		if errors.Is(err, ErrAgentAtCapacity) {
			msg = fmt.Sprintf("Agent %s is at capacity", role)
		}
		c.failTask(conv, task, msg)
		return DelegationResult{Success: false, TaskID: task.ID, AgentRole: role, Error: msg}
	}

	now := time.Now()
	c.mu.Lock()
	task.Status = TaskAssigned
	task.AssignedAgent = string(role)
	task.UpdatedAt = now
	c.mu.Unlock()

	msg := c.queue.Send(ctx, bus.Message{
		Sender:    string(RoleSupervisor),
		Recipient: string(role),
		Type:      bus.MessageRequest,
		Content:   task.Description,
	})
	c.mu.Lock()
	conv.Messages = append(conv.Messages, msg)
	task.Status = TaskInProgress
	c.mu.Unlock()

	delay := st.Capability.AvgProcessing
	if c.opts.SimulatedDelay > 0 {
		delay = c.opts.SimulatedDelay
	}

	c.executor.Run(ctx, *task, delay, func(result map[string]interface{}, err error) {
		c.completeTask(ctx, conv, task, role, result, err)
	})

	return DelegationResult{
		Success:             true,
		TaskID:              task.ID,
		AgentRole:           role,
		EstimatedCompletion: now.Add(delay),
	}
}

// completeTask is the executor's report callback: it finalizes the
// task, frees the agent slot and wakes the phase join. A report that
// arrives after the task already reached a terminal state, a stale
// callback after a phase timeout, only releases the slot.
func (c *Coordinator) completeTask(ctx context.Context, conv *Conversation, task *Task, role Role, result map[string]interface{}, err error) {
	c.board.Release(role, task.ID)

	now := time.Now()
	c.mu.Lock()
	if task.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	if err != nil {
		task.Status = TaskFailed
		task.Error = err.Error()
	} else {
		task.Status = TaskCompleted
		task.Result = result
	}
	task.UpdatedAt = now
	c.mu.Unlock()

	content := "task completed"
	if err != nil {
		content = "task failed: " + err.Error()
	}
	respMsg := c.queue.Send(ctx, bus.Message{
		Sender:    string(role),
		Recipient: string(RoleSupervisor),
		Type:      bus.MessageResponse,
		Content:   content,
	})

	c.mu.Lock()
	conv.Messages = append(conv.Messages, respMsg)
	conv.UpdatedAt = now
	ch, waiting := c.waiters[task.ID]
	if waiting {
		delete(c.waiters, task.ID)
	}
	// Close only after the response message is recorded so a caller
	// observing the join sees a consistent conversation.
	c.mu.Unlock()
	if waiting {
		close(ch)
	}
}

// failTask records a delegation failure without touching the board.
func (c *Coordinator) failTask(conv *Conversation, task *Task, reason string) {
	now := time.Now()
	c.mu.Lock()
	task.Status = TaskFailed
	task.Error = reason
	task.UpdatedAt = now
	conv.UpdatedAt = now
	ch, waiting := c.waiters[task.ID]
	if waiting {
		delete(c.waiters, task.ID)
	}
	c.mu.Unlock()
	if waiting {
		close(ch)
	}
}

// waitForTasks joins on every task's done channel, bounded by the
// configured phase timeout and the caller's context.
func (c *Coordinator) waitForTasks(ctx context.Context, tasks []*Task) error {
	timer := time.NewTimer(c.opts.PhaseTimeout)
	defer timer.Stop()

	for _, t := range tasks {
		c.mu.RLock()
		ch, waiting := c.waiters[t.ID]
		c.mu.RUnlock()
		if !waiting {
			continue
		}
		select {
		case <-ch:
		case <-timer.C:
			c.expireTasks(tasks, "phase timed out")
			return errors.New("phase timed out before all tasks completed")
		case <-ctx.Done():
			c.expireTasks(tasks, ctx.Err().Error())
			return ctx.Err()
		}
	}
	return nil
}

// expireTasks fails every non-terminal task in the slice and releases
// its waiter.
func (c *Coordinator) expireTasks(tasks []*Task, reason string) {
	now := time.Now()
	var done []chan struct{}
	c.mu.Lock()
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		t.Status = TaskFailed
		t.Error = reason
		t.UpdatedAt = now
		if ch, ok := c.waiters[t.ID]; ok {
			done = append(done, ch)
			delete(c.waiters, t.ID)
		}
	}
	c.mu.Unlock()
	for _, ch := range done {
		close(ch)
	}
}

// GetConversation returns a snapshot of a conversation by id.
func (c *Coordinator) GetConversation(id string) (*Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.conversations[id]
	if !ok {
		return nil, false
	}
	return snapshotConversation(conv), true
}

// ActiveConversations returns snapshots of every conversation still
// retained in memory, terminal ones included until cleanup removes them.
func (c *Coordinator) ActiveConversations() []*Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Conversation, 0, len(c.conversations))
	for _, conv := range c.conversations {
		out = append(out, snapshotConversation(conv))
	}
	return out
}

// snapshotConversation deep-copies a conversation so callers can read
// and encode it without holding the coordinator lock. Callers must
// hold c.mu.
func snapshotConversation(conv *Conversation) *Conversation {
	cp := *conv
	cp.Parameters = copyMap(conv.Parameters)
	cp.Metadata = copyMap(conv.Metadata)
	cp.Messages = append([]bus.Message(nil), conv.Messages...)
	cp.Tasks = make([]*Task, len(conv.Tasks))
	for i, t := range conv.Tasks {
		tc := *t
		tc.Parameters = copyMap(t.Parameters)
		tc.Result = copyMap(t.Result)
		tc.DependsOn = append([]string(nil), t.DependsOn...)
		cp.Tasks[i] = &tc
	}
	return &cp
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AgentStatus returns the board entry for a role.
func (c *Coordinator) AgentStatus(role Role) (AgentStatus, bool) {
	return c.board.Get(role)
}

// SendMessage places a message on the queue.
func (c *Coordinator) SendMessage(ctx context.Context, msg bus.Message) bus.Message {
	return c.queue.Send(ctx, msg)
}

// MessageQueue returns the queued messages in send order.
func (c *Coordinator) MessageQueue() []bus.Message {
	return c.queue.Messages()
}

// ClearMessageQueue empties the message queue.
func (c *Coordinator) ClearMessageQueue() {
	c.queue.Clear()
}

// Resolutions returns every recorded conflict.
func (c *Coordinator) Resolutions() []*Conflict {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Conflict, 0, len(c.resolutions))
	for _, cf := range c.resolutions {
		out = append(out, cf)
	}
	return out
}

// Cleanup removes conversations that are terminal and idle for longer
// than olderThan, archiving them first when an archiver is attached.
// Callers are responsible for invoking it periodically.
func (c *Coordinator) Cleanup(ctx context.Context, olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	c.mu.Lock()
	var removed []*Conversation
	for id, conv := range c.conversations {
		if conv.Phase == PhaseCompleted && conv.UpdatedAt.Before(cutoff) {
			removed = append(removed, conv)
			delete(c.conversations, id)
		}
	}
	conflictsByConv := make(map[string][]*Conflict)
	for _, cf := range c.resolutions {
		conflictsByConv[cf.ConversationID] = append(conflictsByConv[cf.ConversationID], cf)
	}
	c.mu.Unlock()

	if c.archiver != nil {
		for _, conv := range removed {
			if err := c.archiver.ArchiveConversation(ctx, conv, conflictsByConv[conv.ID]); err != nil {
				c.logger.Warn("archive failed",
					zap.String("conversation", conv.ID),
					zap.Error(err))
			}
		}
	}

	if len(removed) > 0 {
		c.logger.Info("cleaned up conversations", zap.Int("removed", len(removed)))
	}
	return len(removed)
}
