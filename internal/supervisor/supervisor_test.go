package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/bus"
	"github.com/arbiterhq/arbiter/internal/provider"
)

// fakeCompleter is a scripted completion client.
type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &provider.CompletionResponse{Completion: f.response}, nil
}

// stuckExecutor never reports, forcing the phase timeout path.
type stuckExecutor struct{}

func (stuckExecutor) Run(ctx context.Context, task Task, delay time.Duration, report func(map[string]interface{}, error)) {
}

func newTestCoordinator(t *testing.T, completer provider.Completer) *Coordinator {
	t.Helper()
	logger := zap.NewNop()
	return NewCoordinator(completer, bus.NewQueue(logger), Options{
		PhaseTimeout:   5 * time.Second,
		SimulatedDelay: time.Millisecond,
	}, logger)
}

func TestProcessRequestWithUnusableCompletions(t *testing.T) {
	// Garbage completions force the fallback interpretation and the
	// default five-phase plan; the workflow must still run to the end.
	c := newTestCoordinator(t, &fakeCompleter{response: "not json at all"})

	conv := c.ProcessRequest(context.Background(), "user-1", "portfolio-analysis", map[string]interface{}{
		"portfolio": "tech-heavy",
	})

	if conv.Phase != PhaseCompleted {
		t.Fatalf("expected phase completed, got %s", conv.Phase)
	}
	if errVal, ok := conv.Metadata["error"]; ok {
		t.Fatalf("expected no pipeline error, got %v", errVal)
	}
	if len(conv.Tasks) != 10 {
		t.Fatalf("default plan yields 10 tasks, got %d", len(conv.Tasks))
	}

	workerRoles := map[Role]bool{
		RolePlanning: true, RoleResearch: true, RoleAnalysis: true,
		RoleCompliance: true, RoleSynthesis: true,
	}
	for _, task := range conv.Tasks {
		if task.Status != TaskCompleted {
			t.Errorf("task %q: expected completed, got %s (%s)", task.Description, task.Status, task.Error)
		}
		if !workerRoles[task.AgentRole] {
			t.Errorf("task %q routed to unexpected role %s", task.Description, task.AgentRole)
		}
		if task.Result["confidence"] != 0.85 {
			t.Errorf("task %q: expected confidence 0.85, got %v", task.Description, task.Result["confidence"])
		}
		summary, _ := task.Result["summary"].(string)
		if !strings.Contains(summary, task.Description) {
			t.Errorf("task %q: summary %q does not mention the task", task.Description, summary)
		}
	}

	// Every delegation produced a request and a response message.
	if got := len(conv.Messages); got != 20 {
		t.Errorf("expected 20 messages, got %d", got)
	}

	// All agents returned to idle.
	for _, st := range c.Board().All() {
		if st.State != AgentIdle {
			t.Errorf("agent %s still %s after workflow", st.Role, st.State)
		}
	}
}

func TestProcessRequestProviderDown(t *testing.T) {
	c := newTestCoordinator(t, &fakeCompleter{err: errors.New("connection refused")})

	conv := c.ProcessRequest(context.Background(), "user-1", "market-analysis", nil)
	if conv.Phase != PhaseCompleted {
		t.Fatalf("expected phase completed, got %s", conv.Phase)
	}
	if _, ok := conv.Metadata["error"]; ok {
		t.Error("provider failures degrade to defaults, not pipeline errors")
	}
	if len(conv.Tasks) != 10 {
		t.Errorf("expected the default plan, got %d tasks", len(conv.Tasks))
	}
}

func TestProcessRequestUsesParsedPlan(t *testing.T) {
	plan := `{"phases":[{"name":"research","tasks":["Gather market data"],"estimated_duration_ms":5000}]}`
	c := newTestCoordinator(t, &fakeCompleter{response: plan})

	conv := c.ProcessRequest(context.Background(), "user-2", "quick-check", nil)
	if conv.Phase != PhaseCompleted {
		t.Fatalf("expected phase completed, got %s", conv.Phase)
	}
	// The interpretation response is the same unstructured string, but a
	// structured plan must be honored when the model returns one.
	if len(conv.Tasks) != 1 {
		t.Fatalf("expected 1 task from the parsed plan, got %d", len(conv.Tasks))
	}
	if conv.Tasks[0].AgentRole != RoleResearch {
		t.Errorf("expected research role, got %s", conv.Tasks[0].AgentRole)
	}
}

func TestProcessRequestPhaseTimeout(t *testing.T) {
	logger := zap.NewNop()
	c := NewCoordinator(&fakeCompleter{response: "garbage"}, bus.NewQueue(logger), Options{
		PhaseTimeout: 50 * time.Millisecond,
	}, logger)
	c.SetExecutor(stuckExecutor{})

	conv := c.ProcessRequest(context.Background(), "user-1", "portfolio-analysis", nil)

	if conv.Phase != PhaseCompleted {
		t.Fatalf("expected terminal phase even on timeout, got %s", conv.Phase)
	}
	errVal, ok := conv.Metadata["error"].(string)
	if !ok || !strings.Contains(errVal, "timed out") {
		t.Fatalf("expected timeout error in metadata, got %v", conv.Metadata["error"])
	}
	// The first phase's tasks must be failed, not stuck.
	for _, task := range conv.Tasks {
		if !task.Status.Terminal() {
			t.Errorf("task %q left non-terminal after timeout: %s", task.Description, task.Status)
		}
	}
}

func TestDelegateTaskAtCapacity(t *testing.T) {
	c := newTestCoordinator(t, &fakeCompleter{response: "x"})

	limit := roleCapabilities[RoleAnalysis].MaxConcurrent
	for i := 0; i < limit; i++ {
		if err := c.board.Assign(RoleAnalysis, fmt.Sprintf("busy-%d", i)); err != nil {
			t.Fatalf("pre-fill assign %d: %v", i, err)
		}
	}

	conv := &Conversation{ID: uuid.New().String(), Metadata: map[string]interface{}{}}
	task := &Task{
		ID:          uuid.New().String(),
		AgentRole:   RoleAnalysis,
		Description: "Analyze market trends",
		Status:      TaskPending,
	}
	conv.Tasks = append(conv.Tasks, task)

	res := c.DelegateTask(context.Background(), conv, task)
	if res.Success {
		t.Fatal("expected delegation to fail at capacity")
	}
	if res.Error != "Agent analysis is at capacity" {
		t.Errorf("expected capacity error message, got %q", res.Error)
	}
	if task.Status != TaskFailed {
		t.Errorf("expected task failed, got %s", task.Status)
	}

	st, _ := c.board.Get(RoleAnalysis)
	if len(st.CurrentTasks) != limit {
		t.Errorf("rejected delegation must not change the task list, got %d entries", len(st.CurrentTasks))
	}
}

func TestDelegateTaskUnknownRole(t *testing.T) {
	c := newTestCoordinator(t, &fakeCompleter{response: "x"})

	conv := &Conversation{ID: uuid.New().String(), Metadata: map[string]interface{}{}}
	task := &Task{ID: uuid.New().String(), AgentRole: Role("ghost"), Status: TaskPending}

	res := c.DelegateTask(context.Background(), conv, task)
	if res.Success {
		t.Fatal("expected delegation failure for unknown role")
	}
	if task.Status != TaskFailed {
		t.Errorf("expected task failed, got %s", task.Status)
	}
}

func seedConversation(c *Coordinator, tasks []*Task) *Conversation {
	conv := &Conversation{
		ID:       uuid.New().String(),
		Tasks:    tasks,
		Metadata: map[string]interface{}{},
	}
	c.mu.Lock()
	c.conversations[conv.ID] = conv
	c.mu.Unlock()
	return conv
}

func analysisTask(recommendation string) *Task {
	return &Task{
		ID:        uuid.New().String(),
		AgentRole: RoleAnalysis,
		Status:    TaskCompleted,
		Result:    map[string]interface{}{"recommendation": recommendation},
	}
}

func TestConflictDetectedOnDivergentRecommendations(t *testing.T) {
	c := newTestCoordinator(t, &fakeCompleter{response: "Weigh both, prefer the buy case."})
	conv := seedConversation(c, []*Task{analysisTask("buy"), analysisTask("sell")})

	conflicts := c.CheckAndResolveConflicts(context.Background(), conv.ID)
	if len(conflicts) != 1 {
		t.Fatalf("expected exactly 1 conflict, got %d", len(conflicts))
	}

	cf := conflicts[0]
	if cf.Type != ConflictRecommendation {
		t.Errorf("expected recommendation conflict, got %s", cf.Type)
	}
	if len(cf.InvolvedAgents) != 1 || cf.InvolvedAgents[0] != RoleAnalysis {
		t.Errorf("expected involved agents [analysis], got %v", cf.InvolvedAgents)
	}
	if cf.Resolution != "Weigh both, prefer the buy case." {
		t.Errorf("unexpected resolution %q", cf.Resolution)
	}
	if cf.ResolvedBy != string(RoleSupervisor) {
		t.Errorf("expected resolved by supervisor, got %s", cf.ResolvedBy)
	}
	if len(c.Resolutions()) != 1 {
		t.Errorf("conflict must be retained, got %d", len(c.Resolutions()))
	}
}

func TestNoConflictOnAgreement(t *testing.T) {
	c := newTestCoordinator(t, &fakeCompleter{response: "irrelevant"})
	conv := seedConversation(c, []*Task{analysisTask("hold"), analysisTask("hold")})

	if got := c.CheckAndResolveConflicts(context.Background(), conv.ID); len(got) != 0 {
		t.Fatalf("identical recommendations must not conflict, got %d", len(got))
	}
}

func TestNoConflictWithSingleAnalysisTask(t *testing.T) {
	c := newTestCoordinator(t, &fakeCompleter{response: "irrelevant"})
	conv := seedConversation(c, []*Task{analysisTask("buy")})

	if got := c.CheckAndResolveConflicts(context.Background(), conv.ID); len(got) != 0 {
		t.Fatalf("a single analysis task must not conflict, got %d", len(got))
	}
}

func TestNoConflictWhenTaskNotCompleted(t *testing.T) {
	c := newTestCoordinator(t, &fakeCompleter{response: "irrelevant"})
	failed := analysisTask("sell")
	failed.Status = TaskFailed
	conv := seedConversation(c, []*Task{analysisTask("buy"), failed})

	if got := c.CheckAndResolveConflicts(context.Background(), conv.ID); len(got) != 0 {
		t.Fatalf("non-completed tasks must be ignored, got %d conflicts", len(got))
	}
}

func TestConflictResolutionEscalatesOnProviderFailure(t *testing.T) {
	c := newTestCoordinator(t, &fakeCompleter{err: errors.New("provider down")})
	conv := seedConversation(c, []*Task{analysisTask("buy"), analysisTask("sell")})

	conflicts := c.CheckAndResolveConflicts(context.Background(), conv.ID)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	if conflicts[0].Resolution != escalationMessage {
		t.Errorf("expected escalation message, got %q", conflicts[0].Resolution)
	}
	if conflicts[0].ResolvedBy != "human-escalation" {
		t.Errorf("expected human escalation, got %s", conflicts[0].ResolvedBy)
	}
}

func complianceTask(approved bool) *Task {
	return &Task{
		ID:        uuid.New().String(),
		AgentRole: RoleCompliance,
		Status:    TaskCompleted,
		Result:    map[string]interface{}{"approved": approved},
	}
}

func TestComplianceConflictsGatedByOption(t *testing.T) {
	logger := zap.NewNop()
	completer := &fakeCompleter{response: "Apply the stricter ruling."}

	// Disabled by default.
	c := newTestCoordinator(t, completer)
	conv := seedConversation(c, []*Task{complianceTask(true), complianceTask(false)})
	if got := c.CheckAndResolveConflicts(context.Background(), conv.ID); len(got) != 0 {
		t.Fatalf("compliance conflicts disabled by default, got %d", len(got))
	}

	// Enabled.
	c = NewCoordinator(completer, bus.NewQueue(logger), Options{
		PhaseTimeout:        time.Second,
		ComplianceConflicts: true,
	}, logger)
	conv = seedConversation(c, []*Task{complianceTask(true), complianceTask(false)})
	conflicts := c.CheckAndResolveConflicts(context.Background(), conv.ID)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 compliance conflict, got %d", len(conflicts))
	}
	if conflicts[0].Type != ConflictCompliance {
		t.Errorf("expected compliance conflict, got %s", conflicts[0].Type)
	}
}

func TestDefaultPlanShape(t *testing.T) {
	plan := defaultPlan("conv-1")

	if plan.TotalEstimated.Milliseconds() != 70000 {
		t.Errorf("expected 70000ms total, got %d", plan.TotalEstimated.Milliseconds())
	}
	if len(plan.Phases) != 5 {
		t.Fatalf("expected 5 phases, got %d", len(plan.Phases))
	}

	wantNames := []string{"planning", "research", "analysis", "compliance", "synthesis"}
	for i, name := range wantNames {
		if plan.Phases[i].Name != name {
			t.Errorf("phase %d: expected %s, got %s", i, name, plan.Phases[i].Name)
		}
		if len(plan.Phases[i].Tasks) != 2 {
			t.Errorf("phase %s: expected 2 tasks, got %d", name, len(plan.Phases[i].Tasks))
		}
	}

	synthesis := plan.Phases[4]
	if len(synthesis.DependsOn) != 2 {
		t.Errorf("synthesis must depend on analysis and compliance, got %v", synthesis.DependsOn)
	}
}

type fakeArchiver struct {
	archived []*Conversation
	err      error
}

func (f *fakeArchiver) ArchiveConversation(ctx context.Context, conv *Conversation, conflicts []*Conflict) error {
	f.archived = append(f.archived, conv)
	return f.err
}

func TestCleanupArchivesAndRemoves(t *testing.T) {
	c := newTestCoordinator(t, &fakeCompleter{response: "garbage"})
	arch := &fakeArchiver{}
	c.SetArchiver(arch)

	conv := c.ProcessRequest(context.Background(), "user-1", "portfolio-analysis", nil)

	removed := c.Cleanup(context.Background(), 0)
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if len(arch.archived) != 1 || arch.archived[0].ID != conv.ID {
		t.Errorf("expected conversation archived before removal")
	}
	if _, ok := c.GetConversation(conv.ID); ok {
		t.Error("expected conversation gone after cleanup")
	}
}

func TestCleanupKeepsRecentConversations(t *testing.T) {
	c := newTestCoordinator(t, &fakeCompleter{response: "garbage"})
	conv := c.ProcessRequest(context.Background(), "user-1", "portfolio-analysis", nil)

	if removed := c.Cleanup(context.Background(), time.Hour); removed != 0 {
		t.Fatalf("expected no removals within retention window, got %d", removed)
	}
	if _, ok := c.GetConversation(conv.ID); !ok {
		t.Error("recent conversation must be retained")
	}
}

func TestCleanupArchiveFailureStillRemoves(t *testing.T) {
	c := newTestCoordinator(t, &fakeCompleter{response: "garbage"})
	c.SetArchiver(&fakeArchiver{err: errors.New("db down")})

	conv := c.ProcessRequest(context.Background(), "user-1", "portfolio-analysis", nil)
	if removed := c.Cleanup(context.Background(), 0); removed != 1 {
		t.Fatalf("archive failure must not block cleanup, removed %d", removed)
	}
	if _, ok := c.GetConversation(conv.ID); ok {
		t.Error("expected conversation removed despite archive failure")
	}
}

func TestMessageQueuePassthrough(t *testing.T) {
	c := newTestCoordinator(t, &fakeCompleter{response: "x"})

	sent := c.SendMessage(context.Background(), bus.Message{
		Sender:    "supervisor",
		Recipient: "research",
		Type:      bus.MessageRequest,
		Content:   "ping",
	})
	if sent.ID == "" {
		t.Fatal("expected assigned message id")
	}
	if sent.Timestamp.IsZero() {
		t.Fatal("expected assigned timestamp")
	}

	msgs := c.MessageQueue()
	if len(msgs) != 1 || msgs[0].Content != "ping" {
		t.Fatalf("expected queued message, got %v", msgs)
	}

	c.ClearMessageQueue()
	if got := len(c.MessageQueue()); got != 0 {
		t.Errorf("expected empty queue after clear, got %d", got)
	}
}

func TestAccessorsReturnIndependentSnapshots(t *testing.T) {
	c := newTestCoordinator(t, &fakeCompleter{response: "garbage"})

	returned := c.ProcessRequest(context.Background(), "user-1", "portfolio-analysis", nil)
	returned.Metadata["tampered"] = true
	returned.Tasks[0].Status = TaskPending
	returned.Tasks[0].Result["confidence"] = 0.0
	returned.Messages[0].Content = "tampered"

	got, ok := c.GetConversation(returned.ID)
	if !ok {
		t.Fatal("conversation not found")
	}
	if _, tampered := got.Metadata["tampered"]; tampered {
		t.Error("metadata mutation leaked into coordinator state")
	}
	if got.Tasks[0].Status != TaskCompleted {
		t.Errorf("task mutation leaked, status %s", got.Tasks[0].Status)
	}
	if got.Tasks[0].Result["confidence"] != 0.85 {
		t.Errorf("result mutation leaked, confidence %v", got.Tasks[0].Result["confidence"])
	}
	if got.Messages[0].Content == "tampered" {
		t.Error("message mutation leaked into coordinator state")
	}

	listed := c.ActiveConversations()
	if len(listed) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(listed))
	}
	listed[0].Phase = "tampered"
	again, _ := c.GetConversation(returned.ID)
	if again.Phase != PhaseCompleted {
		t.Errorf("listing mutation leaked, phase %s", again.Phase)
	}
}

func TestConversationsEncodableDuringPipeline(t *testing.T) {
	c := newTestCoordinator(t, &fakeCompleter{response: "garbage"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.ProcessRequest(context.Background(), "user-1", "portfolio-analysis", nil)
	}()

	// Encode conversations while the pipeline is still mutating them;
	// the race detector flags any shared access that is not a snapshot.
	for {
		for _, conv := range c.ActiveConversations() {
			if _, err := json.Marshal(conv); err != nil {
				t.Errorf("marshal conversation: %v", err)
			}
			snap, ok := c.GetConversation(conv.ID)
			if !ok {
				continue
			}
			if _, err := json.Marshal(snap); err != nil {
				t.Errorf("marshal snapshot: %v", err)
			}
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

// capturingExecutor records report callbacks without invoking them so
// tests can replay them after the phase has already timed out.
type capturingExecutor struct {
	mu      sync.Mutex
	reports []func(map[string]interface{}, error)
}

func (e *capturingExecutor) Run(ctx context.Context, task Task, delay time.Duration, report func(map[string]interface{}, error)) {
	e.mu.Lock()
	e.reports = append(e.reports, report)
	e.mu.Unlock()
}

func TestStaleReportAfterTimeoutIgnored(t *testing.T) {
	logger := zap.NewNop()
	exec := &capturingExecutor{}
	c := NewCoordinator(&fakeCompleter{response: "garbage"}, bus.NewQueue(logger), Options{
		PhaseTimeout: 20 * time.Millisecond,
	}, logger)
	c.SetExecutor(exec)

	conv := c.ProcessRequest(context.Background(), "user-1", "portfolio-analysis", nil)

	before, ok := c.GetConversation(conv.ID)
	if !ok {
		t.Fatal("conversation not found")
	}
	messagesBefore := len(before.Messages)

	exec.mu.Lock()
	reports := append([]func(map[string]interface{}, error){}, exec.reports...)
	exec.mu.Unlock()
	if len(reports) == 0 {
		t.Fatal("expected captured report callbacks")
	}
	for _, report := range reports {
		report(map[string]interface{}{"summary": "late result"}, nil)
	}

	after, _ := c.GetConversation(conv.ID)
	for _, task := range after.Tasks {
		if task.Status != TaskFailed {
			t.Errorf("task %q resurrected to %s by a stale report", task.Description, task.Status)
		}
		if task.Result != nil {
			t.Errorf("task %q accepted a result after timing out", task.Description)
		}
	}
	if got := len(after.Messages); got != messagesBefore {
		t.Errorf("stale reports appended messages: %d before, %d after", messagesBefore, got)
	}
}
