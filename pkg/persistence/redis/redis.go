// Package redis provides Redis persistence implementation for workflows.
// Each workflow is one JSON value; a set indexes the stored IDs.
package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "flowrun"

// Persistence implements the persistence.Persistence interface on Redis.
type Persistence struct {
	client redis.UniversalClient
	logger *slog.Logger
	prefix string
}

// NewPersistence connects to the Redis server at databaseURL (redis:// or rediss://).
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	opts, err := redis.ParseURL(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewPersistenceWithClient(client, logger, defaultPrefix), nil
}

// NewPersistenceWithClient wraps an existing client. Keys are namespaced by prefix.
func NewPersistenceWithClient(client redis.UniversalClient, logger *slog.Logger, prefix string) *Persistence {
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &Persistence{client: client, logger: logger, prefix: prefix}
}

func (p *Persistence) workflowKey(id string) string {
	return p.prefix + ":workflow:" + id
}

func (p *Persistence) indexKey() string {
	return p.prefix + ":workflows"
}

// Close closes the client.
func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

// HealthCheck pings the server.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// Workflows returns every indexed workflow ordered by creation time, then ID.
func (p *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	ids, err := p.client.SMembers(ctx, p.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := p.get(ctx, p.client, id)
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			p.logger.WarnContext(ctx, "indexed workflow missing", "workflow_id", id)

			continue
		}

		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	slices.SortFunc(workflows, func(a, b *models.Workflow) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return workflows, nil
}

// WorkflowByID returns a workflow or persistence.ErrWorkflowNotFound.
func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := p.get(ctx, p.client, id)
	if err != nil {
		return nil, persistence.NewWorkflowError("WorkflowByID", id, err)
	}

	return workflow, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (p *Persistence) get(ctx context.Context, cmd getter, id string) (*models.Workflow, error) {
	body, err := cmd.Get(ctx, p.workflowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.ErrWorkflowNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}

	var workflow models.Workflow
	if err := json.Unmarshal(body, &workflow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}

	return &workflow, nil
}

// SaveWorkflow writes the workflow inside a WATCH transaction so a concurrent
// writer makes it fail with persistence.ErrVersionConflict.
func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	key := p.workflowKey(workflow.ID)

	candidate := *workflow
	candidate.Version = workflow.Version + 1
	candidate.UpdatedAt = time.Now().UTC()

	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = candidate.UpdatedAt
	}

	body, err := json.Marshal(&candidate)
	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, fmt.Errorf("failed to marshal workflow: %w", err))
	}

	err = p.client.Watch(ctx, func(tx *redis.Tx) error {
		var stored int64

		current, err := p.get(ctx, tx, workflow.ID)

		switch {
		case errors.Is(err, persistence.ErrWorkflowNotFound):
			stored = 0
		case err != nil:
			return err
		default:
			stored = current.Version
		}

		if stored != workflow.Version {
			return fmt.Errorf("%w: stored %d, have %d", persistence.ErrVersionConflict, stored, workflow.Version)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, body, 0)
			pipe.SAdd(ctx, p.indexKey(), workflow.ID)

			return nil
		})

		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		err = fmt.Errorf("%w: concurrent write", persistence.ErrVersionConflict)
	}

	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, err)
	}

	workflow.Version = candidate.Version
	workflow.CreatedAt = candidate.CreatedAt
	workflow.UpdatedAt = candidate.UpdatedAt

	return nil
}

// DeleteWorkflow removes the workflow and its index entry.
func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	var deleted *redis.IntCmd

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, p.workflowKey(id))
		pipe.SRem(ctx, p.indexKey(), id)

		return nil
	})
	if err != nil {
		return persistence.NewWorkflowError("DeleteWorkflow", id, err)
	}

	if deleted.Val() == 0 {
		return persistence.NewWorkflowError("DeleteWorkflow", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}
