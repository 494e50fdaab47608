// Package config loads workflow definitions authored in YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"gopkg.in/yaml.v3"
)

// WorkflowDefinitionFile represents the structure of a workflow YAML file.
type WorkflowDefinitionFile struct {
	ID              string           `yaml:"id"`
	Name            string           `yaml:"name"`
	Description     string           `yaml:"description"`
	Owner           string           `yaml:"owner"`
	IntegrationID   string           `yaml:"integration_id"`
	IntegrationType string           `yaml:"integration_type"`
	Settings        map[string]any   `yaml:"settings"`
	Nodes           []NodeDefinition `yaml:"nodes"`
	Edges           []EdgeDefinition `yaml:"edges"`
}

// NodeDefinition represents a node in the YAML file. Next is shorthand for
// unconditional edges to the listed nodes.
type NodeDefinition struct {
	ID           string         `yaml:"id"`
	Type         string         `yaml:"type"`
	Label        string         `yaml:"label"`
	Assignee     string         `yaml:"assignee"`
	AutoComplete bool           `yaml:"auto_complete"`
	SendEmail    bool           `yaml:"send_email"`
	Flags        map[string]any `yaml:"flags"`
	Condition    any            `yaml:"condition"`
	Duration     string         `yaml:"duration"`
	Deadline     *time.Time     `yaml:"deadline"`
	Next         []string       `yaml:"next"`
}

// EdgeDefinition represents an edge in the YAML file.
type EdgeDefinition struct {
	ID     string `yaml:"id"`
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Handle string `yaml:"handle"`
	Label  string `yaml:"label"`
}

// LoadWorkflowDefinition reads a workflow definition from a YAML file.
func LoadWorkflowDefinition(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}

	workflow, err := ParseWorkflowDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return workflow, nil
}

// ParseWorkflowDefinition decodes a YAML workflow definition into a draft
// workflow. Unknown keys are rejected.
func ParseWorkflowDefinition(data []byte) (*models.Workflow, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var file WorkflowDefinitionFile
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("workflow definition is empty")
		}

		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}

	return file.Workflow(), nil
}

// Workflow converts the file into a draft workflow with pending nodes.
func (f WorkflowDefinitionFile) Workflow() *models.Workflow {
	workflow := &models.Workflow{
		ID:              f.ID,
		Name:            f.Name,
		Description:     f.Description,
		Owner:           f.Owner,
		Status:          models.WorkflowStatusDraft,
		IntegrationID:   f.IntegrationID,
		IntegrationType: f.IntegrationType,
		Settings:        f.Settings,
		Nodes:           make([]*models.Node, 0, len(f.Nodes)),
		Edges:           make([]*models.Edge, 0, len(f.Edges)),
	}

	for _, def := range f.Nodes {
		workflow.Nodes = append(workflow.Nodes, def.node())

		for _, target := range def.Next {
			workflow.Edges = append(workflow.Edges, &models.Edge{Source: def.ID, Target: target})
		}
	}

	for _, def := range f.Edges {
		workflow.Edges = append(workflow.Edges, &models.Edge{
			ID:           def.ID,
			Source:       def.Source,
			Target:       def.Target,
			SourceHandle: def.Handle,
			Label:        def.Label,
		})
	}

	return workflow
}

func (d NodeDefinition) node() *models.Node {
	node := &models.Node{
		ID:        d.ID,
		Type:      models.NodeType(d.Type),
		Label:     d.Label,
		Status:    models.NodeStatusPending,
		Assignee:  d.Assignee,
		Condition: d.Condition,
		Duration:  d.Duration,
		Deadline:  d.Deadline,
	}

	if d.AutoComplete || d.SendEmail || len(d.Flags) > 0 {
		node.Automation = &models.Automation{
			AutoComplete: d.AutoComplete,
			SendEmail:    d.SendEmail,
			Flags:        d.Flags,
		}
	}

	return node
}
