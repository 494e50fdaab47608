// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/flowrun/pkg/eventbus"
	"github.com/dukex/flowrun/pkg/events"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/registry"
	"github.com/dukex/flowrun/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService *services.Workflow
	validator       *validator.Validate
	registry        *registry.Registry
	eventBus        eventbus.EventBus
}

// NewAPIHandlers creates the handlers. eventBus may be nil, which disables
// asynchronous start and resume requests.
func NewAPIHandlers(
	workflowService *services.Workflow,
	validator *validator.Validate,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		validator:       validator,
		registry:        registry,
		eventBus:        eventBus,
	}
}

// RegisterRoutes mounts the workflow API on router.
func (h *APIHandlers) RegisterRoutes(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/start", h.StartWorkflow)
	w.Post("/:id/nodes/:nodeId/resume", h.ResumeNode)

	router.Get("/node-types", h.GetNodeTypes)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.ListWorkflows(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":     result.Workflows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    req.SortBy,
			"sort_order": req.SortOrder,
		},
	})
}

// parseListWorkflowsRequest parses query parameters for listing workflows.
func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	req.OwnerID = c.Query("owner_id")

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.WorkflowStatus(statusStr)
		req.Status = &status
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	// Apply the same defaults the service does so the echoed values are accurate
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	return req, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), req.Workflow())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.workflowService.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) StartWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	var req StartWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if req.Async {
		if _, err := h.workflowService.FetchByID(c.Context(), id); err != nil {
			return handleServiceError(c, err)
		}

		event := events.WorkflowStartRequested{
			BaseEvent: h.baseEvent(events.WorkflowStartRequestedEvent, id),
			Data:      req.Data,
		}

		return h.dispatch(c, event, AcceptedResponse{EventID: event.ID, WorkflowID: id})
	}

	workflow, err := h.workflowService.Start(c.Context(), id, req.Data)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) ResumeNode(c fiber.Ctx) error {
	id := c.Params("id")
	nodeID := c.Params("nodeId")

	var req ResumeNodeRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if req.Async {
		event := events.NodeResumeRequested{
			BaseEvent: h.baseEvent(events.NodeResumeRequestedEvent, id),
			NodeID:    nodeID,
			Input:     req.Input,
		}

		return h.dispatch(c, event, AcceptedResponse{EventID: event.ID, WorkflowID: id, NodeID: nodeID})
	}

	workflow, err := h.workflowService.Resume(c.Context(), id, nodeID, req.Input)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	base := events.BaseEvent{
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}

	if h.eventBus != nil {
		base.ID = h.eventBus.GenerateID()
	}

	return base
}

func (h *APIHandlers) dispatch(c fiber.Ctx, event eventbus.Event, accepted AcceptedResponse) error {
	if h.eventBus == nil {
		return problem(c, fiber.StatusServiceUnavailable, "event_bus_unavailable", "asynchronous requests need an event bus")
	}

	if err := h.eventBus.Publish(c.Context(), accepted.WorkflowID, event); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(accepted)
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	schemas := h.registry.Schemas()
	types := make([]NodeTypeResponse, 0, len(schemas))

	for _, nodeType := range h.registry.Types() {
		types = append(types, NodeTypeResponse{Type: nodeType, Schema: schemas[nodeType]})
	}

	return c.JSON(types)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "flowrun API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "flowrun API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
