package file

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

// ErrInvalidWorkflowID marks an ID that does not name a file inside the store.
var ErrInvalidWorkflowID = errors.New("invalid workflow id")

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	root string // File system root for storing workflows
	mu   *sync.Mutex
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string, mu *sync.Mutex) *WorkflowRepository {
	return &WorkflowRepository{root: root, mu: mu}
}

func (fp *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	return fp.workflowRepo.GetAll(ctx)
}

func (fp *Persistence) WorkflowByID(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := fp.workflowRepo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, persistence.NewWorkflowError("WorkflowByID", workflowID, err)
	}

	return workflow, nil
}

func (fp *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if err := fp.workflowRepo.Save(ctx, workflow); err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, err)
	}

	return nil
}

func (fp *Persistence) DeleteWorkflow(ctx context.Context, workflowID string) error {
	if err := fp.workflowRepo.Delete(ctx, workflowID); err != nil {
		return persistence.NewWorkflowError("DeleteWorkflow", workflowID, err)
	}

	return nil
}

func (wr *WorkflowRepository) dir() string {
	return filepath.Join(wr.root, "workflows")
}

// filePath maps an ID to its file. IDs with path separators, or that would
// resolve outside the workflows directory, are rejected.
func (wr *WorkflowRepository) filePath(workflowID string) (string, error) {
	dir := filepath.Clean(wr.dir())
	name := filepath.Join(dir, workflowID+".json")

	if workflowID == "" || strings.ContainsAny(workflowID, `/\`) || filepath.Dir(name) != dir {
		return "", fmt.Errorf("%w: %q", ErrInvalidWorkflowID, workflowID)
	}

	return name, nil
}

// GetAll returns every stored workflow ordered by creation time, then ID.
func (wr *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	root := os.DirFS(wr.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		workflowID := file[:len(file)-5] // Remove .json extension

		workflow, err := wr.GetByID(ctx, workflowID)
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			continue // deleted while listing
		}

		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
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

// GetByID retrieves a workflow by its ID from the file system.
// An ID that could never have been stored is reported as not found.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	name, err := wr.filePath(workflowID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", persistence.ErrWorkflowNotFound, err)
	}

	body, err := os.ReadFile(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(body, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", workflowID, err)
	}

	return &workflow, nil
}

// storedVersion returns the version on disk, 0 when the file is absent.
func (wr *WorkflowRepository) storedVersion(ctx context.Context, workflowID string) (int64, error) {
	stored, err := wr.GetByID(ctx, workflowID)
	if errors.Is(err, persistence.ErrWorkflowNotFound) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	return stored.Version, nil
}

// Save writes a workflow if the stored version still matches workflow.Version.
func (wr *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	name, err := wr.filePath(workflow.ID)
	if err != nil {
		return err
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()

	err = os.MkdirAll(wr.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	current, err := wr.storedVersion(ctx, workflow.ID)
	if err != nil {
		return err
	}

	if current != workflow.Version {
		return fmt.Errorf("%w: stored %d, have %d", persistence.ErrVersionConflict, current, workflow.Version)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	previousUpdatedAt := workflow.UpdatedAt
	workflow.UpdatedAt = now
	workflow.Version++

	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		workflow.Version--
		workflow.UpdatedAt = previousUpdatedAt

		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	if err := writeFileAtomic(name, data); err != nil {
		workflow.Version--
		workflow.UpdatedAt = previousUpdatedAt

		return fmt.Errorf("failed to write workflow %s: %w", workflow.ID, err)
	}

	return nil
}

// Delete removes a workflow file.
func (wr *WorkflowRepository) Delete(_ context.Context, workflowID string) error {
	name, err := wr.filePath(workflowID)
	if err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrWorkflowNotFound, err)
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()

	err = os.Remove(name)
	if os.IsNotExist(err) {
		return persistence.ErrWorkflowNotFound
	}

	return err
}

// writeFileAtomic replaces name with data so readers never see a partial file.
func writeFileAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".*.tmp")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return err
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return err
	}

	if err := os.Chmod(tmpName, 0600); err != nil {
		_ = os.Remove(tmpName)

		return err
	}

	return os.Rename(tmpName, name)
}
