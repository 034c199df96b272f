package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arbiterhq/arbiter/internal/supervisor"
)

// ArchiveConversation persists one terminal conversation and its
// conflicts. Tasks and messages are stored as JSON documents; archived
// rows are write-once and never read back by the coordinator.
func (s *Store) ArchiveConversation(ctx context.Context, conv *supervisor.Conversation, conflicts []*supervisor.Conflict) error {
	tasksJSON, err := json.Marshal(conv.Tasks)
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	messagesJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	metadataJSON, err := json.Marshal(conv.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	paramsJSON, err := json.Marshal(conv.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO conversations (id, user_id, request_type, parameters, phase, tasks, messages, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		conv.ID, conv.UserID, conv.RequestType, paramsJSON, conv.Phase,
		tasksJSON, messagesJSON, metadataJSON, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}

	for _, cf := range conflicts {
		if err := s.archiveConflict(ctx, cf); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) archiveConflict(ctx context.Context, cf *supervisor.Conflict) error {
	agentsJSON, err := json.Marshal(cf.InvolvedAgents)
	if err != nil {
		return fmt.Errorf("marshal involved agents: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO conflicts (id, conversation_id, type, involved_agents, description, strategy, resolution, resolved_by, resolved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		cf.ID, cf.ConversationID, string(cf.Type), agentsJSON, cf.Description,
		cf.Strategy, cf.Resolution, cf.ResolvedBy, cf.ResolvedAt, cf.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("archive conflict: %w", err)
	}
	return nil
}

// ArchivedConversation is a read model for one archived row.
type ArchivedConversation struct {
	ID          string
	UserID      string
	RequestType string
	Phase       string
	Tasks       []*supervisor.Task
	Metadata    map[string]interface{}
}

// GetConversation retrieves an archived conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*ArchivedConversation, error) {
	var (
		out          ArchivedConversation
		tasksJSON    []byte
		metadataJSON []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, request_type, phase, tasks, metadata
		FROM conversations
		WHERE id = $1`, id,
	).Scan(&out.ID, &out.UserID, &out.RequestType, &out.Phase, &tasksJSON, &metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("get archived conversation: %w", err)
	}
	if len(tasksJSON) > 0 {
		json.Unmarshal(tasksJSON, &out.Tasks)
	}
	if len(metadataJSON) > 0 {
		json.Unmarshal(metadataJSON, &out.Metadata)
	}
	return &out, nil
}

// ListConversations retrieves recent archived conversations for a user,
// newest first.
func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]*ArchivedConversation, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, request_type, phase, tasks, metadata
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list archived conversations: %w", err)
	}
	defer rows.Close()

	var out []*ArchivedConversation
	for rows.Next() {
		var (
			c            ArchivedConversation
			tasksJSON    []byte
			metadataJSON []byte
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.RequestType, &c.Phase, &tasksJSON, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scan archived conversation: %w", err)
		}
		if len(tasksJSON) > 0 {
			json.Unmarshal(tasksJSON, &c.Tasks)
		}
		if len(metadataJSON) > 0 {
			json.Unmarshal(metadataJSON, &c.Metadata)
		}
		out = append(out, &c)
	}
	return out, nil
}
