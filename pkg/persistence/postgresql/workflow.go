package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

const selectWorkflow = `
	SELECT
		id
	  , name
	  , description
	  , owner
	  , status
	  , nodes
	  , edges
	  , integration_id
	  , integration_type
	  , settings
	  , version
	  , created_at
	  , updated_at
	  , started_at
	FROM workflows
`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// GetAll returns all workflows from the database.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, selectWorkflow+" ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func(ctx context.Context, r *WorkflowRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// GetByID returns a workflow or persistence.ErrWorkflowNotFound.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, selectWorkflow+" WHERE id = $1", id)

	workflow, err := r.scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// Save inserts a version 0 workflow or updates the row whose version matches.
// Either way the write only lands if nobody else wrote first.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	createdAt := workflow.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	nodesJSON, err := json.Marshal(workflow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edgesJSON, err := json.Marshal(workflow.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	settingsJSON, err := json.Marshal(workflow.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	nextVersion := workflow.Version + 1

	var result sql.Result

	if workflow.Version == 0 {
		result, err = r.db.ExecContext(ctx, `
			INSERT INTO workflows (id, name, description, owner, status, nodes, edges,
				integration_id, integration_type, settings, version, created_at, updated_at, started_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO NOTHING
		`,
			workflow.ID,
			workflow.Name,
			workflow.Description,
			workflow.Owner,
			workflow.Status,
			nodesJSON,
			edgesJSON,
			nullString(workflow.IntegrationID),
			nullString(workflow.IntegrationType),
			settingsJSON,
			nextVersion,
			createdAt,
			now,
			workflow.StartedAt,
		)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE workflows SET
				name = $3,
				description = $4,
				owner = $5,
				status = $6,
				nodes = $7,
				edges = $8,
				integration_id = $9,
				integration_type = $10,
				settings = $11,
				version = $12,
				updated_at = $13,
				started_at = $14
			WHERE id = $1 AND version = $2
		`,
			workflow.ID,
			workflow.Version,
			workflow.Name,
			workflow.Description,
			workflow.Owner,
			workflow.Status,
			nodesJSON,
			edgesJSON,
			nullString(workflow.IntegrationID),
			nullString(workflow.IntegrationType),
			settingsJSON,
			nextVersion,
			now,
			workflow.StartedAt,
		)
	}

	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: version %d is stale", persistence.ErrVersionConflict, workflow.Version)
	}

	workflow.CreatedAt = createdAt
	workflow.UpdatedAt = now
	workflow.Version = nextVersion

	return nil
}

// Delete removes a workflow row.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow                       models.Workflow
		nodesJSON, edgesJSON, settings []byte
		integrationID, integrationType sql.NullString
		startedAt                      sql.NullTime
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Owner,
		&workflow.Status,
		&nodesJSON,
		&edgesJSON,
		&integrationID,
		&integrationType,
		&settings,
		&workflow.Version,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&startedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(nodesJSON, &workflow.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if err := json.Unmarshal(edgesJSON, &workflow.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &workflow.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	workflow.IntegrationID = integrationID.String
	workflow.IntegrationType = integrationType.String

	if startedAt.Valid {
		t := startedAt.Time
		workflow.StartedAt = &t
	}

	return &workflow, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
