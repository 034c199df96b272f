package supervisor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/provider"
)

// escalationMessage is the fixed resolution recorded when the
// resolution call itself fails.
const escalationMessage = "Conflict requires human review - escalating to senior analyst"

const resolutionPrompt = `You are the supervisor of an investment-analysis agent team.
Two or more agents produced inconsistent results and the conflict must
be resolved before the workflow can continue.

Conflict type: %s
Involved roles: %s
Description: %s
Strategy: %s

Provide a short, decisive resolution.`

// CheckAndResolveConflicts scans a conversation's completed tasks for
// inconsistent same-role results, records a conflict per divergent
// dimension and resolves each immediately. Returns the conflicts
// detected by this pass.
func (c *Coordinator) CheckAndResolveConflicts(ctx context.Context, conversationID string) []*Conflict {
	c.mu.RLock()
	conv, ok := c.conversations[conversationID]
	if !ok {
		c.mu.RUnlock()
		return nil
	}

	var (
		analysisCount   int
		recommendations []string
		complianceCount int
		rulings         []string
	)
	for _, t := range conv.Tasks {
		if t.Status != TaskCompleted {
			continue
		}
		switch t.AgentRole {
		case RoleAnalysis:
			analysisCount++
			if rec, ok := t.Result["recommendation"].(string); ok {
				recommendations = append(recommendations, rec)
			}
		case RoleCompliance:
			complianceCount++
			if v, ok := t.Result["approved"]; ok {
				rulings = append(rulings, fmt.Sprint(v))
			}
		}
	}
	c.mu.RUnlock()

	var conflicts []*Conflict
	if analysisCount > 1 && len(distinctValues(recommendations)) > 1 {
		conflicts = append(conflicts, &Conflict{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			Type:           ConflictRecommendation,
			InvolvedAgents: []Role{RoleAnalysis},
			Description: fmt.Sprintf("Analysis agents produced divergent recommendations: %s",
				strings.Join(distinctValues(recommendations), ", ")),
			Strategy:  "majority-vote",
			CreatedAt: time.Now(),
		})
	}
	if c.opts.ComplianceConflicts && complianceCount > 1 && len(distinctValues(rulings)) > 1 {
		conflicts = append(conflicts, &Conflict{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			Type:           ConflictCompliance,
			InvolvedAgents: []Role{RoleCompliance},
			Description: fmt.Sprintf("Compliance agents produced divergent rulings: %s",
				strings.Join(distinctValues(rulings), ", ")),
			Strategy:  "strictest-wins",
			CreatedAt: time.Now(),
		})
	}

	for _, cf := range conflicts {
		c.resolveConflict(ctx, cf)
		c.mu.Lock()
		c.resolutions[cf.ID] = cf
		c.mu.Unlock()
		c.logger.Info("conflict resolved",
			zap.String("conversation", conversationID),
			zap.String("type", string(cf.Type)),
			zap.String("resolved_by", cf.ResolvedBy))
	}
	return conflicts
}

// resolveConflict asks the completion service to arbitrate. A failed or
// empty response escalates to a human instead of blocking the workflow.
func (c *Coordinator) resolveConflict(ctx context.Context, cf *Conflict) {
	roles := make([]string, len(cf.InvolvedAgents))
	for i, r := range cf.InvolvedAgents {
		roles[i] = string(r)
	}

	resp, err := c.completer.Complete(ctx, &provider.CompletionRequest{
		Prompt: fmt.Sprintf(resolutionPrompt,
			cf.Type, strings.Join(roles, ", "), cf.Description, cf.Strategy),
		MaxTokens:   512,
		Temperature: 0.3,
	})
	switch {
	case err != nil:
		c.logger.Warn("conflict resolution call failed, escalating", zap.Error(err))
		cf.Resolution = escalationMessage
		cf.ResolvedBy = "human-escalation"
	case strings.TrimSpace(resp.Completion) == "":
		cf.Resolution = escalationMessage
		cf.ResolvedBy = "human-escalation"
	default:
		cf.Resolution = strings.TrimSpace(resp.Completion)
		cf.ResolvedBy = string(RoleSupervisor)
	}
	cf.ResolvedAt = time.Now()
}

// distinctValues returns the sorted unique values of a slice.
func distinctValues(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
