package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dukex/flowrun/pkg/graph"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Runner advances stored workflows. *engine.Engine implements it.
type Runner interface {
	StartWorkflow(ctx context.Context, workflowID string, data map[string]any) (*models.Workflow, error)
	ResumeWorkflow(ctx context.Context, workflowID, nodeID string, input map[string]any) (*models.Workflow, error)
}

// NodeValidator checks a single node definition. *registry.Registry implements it.
type NodeValidator interface {
	ValidateNode(node *models.Node) error
}

type Workflow struct {
	persistence persistence.Persistence
	runner      Runner
	nodes       NodeValidator
	validate    *validator.Validate
	logger      *slog.Logger
	clock       func() time.Time
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, runner Runner, nodes NodeValidator, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persistence,
		runner:      runner,
		nodes:       nodes,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "workflow_service"),
		clock:       time.Now,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	// Pagination
	Limit  int
	Offset int

	// Filtering
	OwnerID string
	Status  *models.WorkflowStatus

	// Sorting
	SortBy    string
	SortOrder string
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

var allowedSorts = []string{"created_at", "updated_at", "name"}

// ListWorkflows retrieves workflows with filtering, sorting, and pagination.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if err := w.validateListWorkflowsRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	all, err := w.persistence.Workflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	filtered := make([]*models.Workflow, 0, len(all))

	for _, workflow := range all {
		if req.OwnerID != "" && workflow.Owner != req.OwnerID {
			continue
		}

		if req.Status != nil && workflow.Status != *req.Status {
			continue
		}

		filtered = append(filtered, workflow)
	}

	slices.SortStableFunc(filtered, compareWorkflows(req.SortBy, req.SortOrder))

	total := len(filtered)
	start := min(req.Offset, total)
	end := min(req.Offset+req.Limit, total)

	return &ListWorkflowsResponse{
		Workflows:   filtered[start:end],
		TotalCount:  int64(total),
		HasNextPage: end < total,
	}, nil
}

func compareWorkflows(sortBy, order string) func(a, b *models.Workflow) int {
	return func(a, b *models.Workflow) int {
		var c int

		switch sortBy {
		case "name":
			c = strings.Compare(a.Name, b.Name)
		case "updated_at":
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}

		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}

		if order == "desc" {
			return -c
		}

		return c
	}
}

// validateListWorkflowsRequest validates and sets defaults for the request.
func (w *Workflow) validateListWorkflowsRequest(req *ListWorkflowsRequest) error {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field '%s', allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	if req.Status != nil && !req.Status.IsValid() {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_STATUS",
			fmt.Sprintf("invalid status '%s'", *req.Status),
			ErrInvalidStatus,
		)
	}

	if req.OwnerID != "" {
		req.OwnerID = strings.TrimSpace(req.OwnerID)
		if req.OwnerID == "" {
			return ErrEmptyOwnerID
		}
	}

	return nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowByID(ctx, id)
}

// Validate checks a workflow definition: required fields, graph structure and
// each node against its handler schema. Every problem is reported.
func (w *Workflow) Validate(workflow *models.Workflow) error {
	if workflow == nil {
		return ErrWorkflowNil
	}

	if slices.Contains(workflow.Nodes, nil) || slices.Contains(workflow.Edges, nil) {
		return NewValidationError("Validate", "INVALID_WORKFLOW", "nodes and edges cannot be null", ErrInvalidWorkflow)
	}

	if err := w.validate.Struct(workflow); err != nil {
		return NewValidationError("Validate", "INVALID_WORKFLOW", err.Error(), ErrInvalidWorkflow)
	}

	errs := []error{graph.Validate(workflow)}

	if w.nodes != nil {
		for _, node := range workflow.Nodes {
			errs = append(errs, w.nodes.ValidateNode(node))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}

	return nil
}

// Create stores a new draft workflow. A missing workflow or edge ID is
// generated; node runtime state is reset.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	now := w.clock().UTC()

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	workflow.Status = models.WorkflowStatusDraft
	workflow.Version = 0
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	workflow.StartedAt = nil

	if slices.Contains(workflow.Nodes, nil) || slices.Contains(workflow.Edges, nil) {
		return nil, w.Validate(workflow)
	}

	for _, node := range workflow.Nodes {
		node.Status = models.NodeStatusPending
		node.Output = nil
		node.Error = ""
		node.UpdatedAt = nil
	}

	for _, edge := range workflow.Edges {
		if edge.ID == "" {
			edge.ID = uuid.New().String()
		}
	}

	if err := w.Validate(workflow); err != nil {
		return nil, err
	}

	err := w.persistence.SaveWorkflow(ctx, workflow)
	if persistence.IsVersionConflict(err) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowExists, workflow.ID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "workflow created", "workflow_id", workflow.ID, "nodes", len(workflow.Nodes))

	return workflow, nil
}

// Delete removes a workflow by its ID.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	if _, err := w.persistence.WorkflowByID(ctx, workflowID); err != nil {
		return err
	}

	err := w.persistence.DeleteWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// Start resets and starts a stored workflow.
func (w *Workflow) Start(ctx context.Context, workflowID string, data map[string]any) (*models.Workflow, error) {
	return w.runner.StartWorkflow(ctx, workflowID, data)
}

// Resume hands external input to a suspended or failed node.
func (w *Workflow) Resume(ctx context.Context, workflowID, nodeID string, input map[string]any) (*models.Workflow, error) {
	return w.runner.ResumeWorkflow(ctx, workflowID, nodeID, input)
}
