package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Definition is the wire form of a workflow's structure, suitable for
// JSON export and re-import.
type Definition struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Description         string         `json:"description,omitempty"`
	Objectives          []string       `json:"objectives,omitempty"`
	Nodes               []NodeEnvelope `json:"nodes"`
	Edges               []Edge         `json:"edges"`
	Tasks               []*Task        `json:"tasks,omitempty"`
	ParticipatingAgents []string       `json:"participating_agents,omitempty"`
	Pattern             Pattern        `json:"pattern"`
}

// Summary is the listing form of a workflow.
type Summary struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Status         string    `json:"status"`
	Pattern        Pattern   `json:"pattern"`
	Nodes          int       `json:"nodes"`
	Edges          int       `json:"edges"`
	Tasks          int       `json:"tasks"`
	CompletedTasks int       `json:"completed_tasks"`
	Agents         int       `json:"agents"`
	CreatedAt      time.Time `json:"created_at"`
}

// Manager owns the in-process workflow and template collections. It is
// constructed per deployment (or per test), so multiple isolated engine
// instances can coexist.
type Manager struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	templates map[string]Definition
}

func NewManager() *Manager {
	return &Manager{
		workflows: make(map[string]*Workflow),
		templates: make(map[string]Definition),
	}
}

// Create registers a new empty workflow and returns it.
func (m *Manager) Create(name, description string, pattern Pattern) *Workflow {
	w := New(uuid.New().String(), name, pattern)
	w.Description = description

	m.mu.Lock()
	m.workflows[w.ID] = w
	m.mu.Unlock()
	return w
}

// Get returns the workflow with the given id.
func (m *Manager) Get(id string) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", id, ErrUnknownWorkflow)
	}
	return w, nil
}

// List returns summaries of all workflows, newest last.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Summary, 0, len(m.workflows))
	for _, w := range m.workflows {
		completed := 0
		for _, t := range w.Tasks {
			if t.Status == StatusCompleted {
				completed++
			}
		}
		out = append(out, Summary{
			ID:             w.ID,
			Name:           w.Name,
			Description:    w.Description,
			Status:         w.Status,
			Pattern:        w.Pattern,
			Nodes:          len(w.Nodes),
			Edges:          len(w.Edges),
			Tasks:          len(w.Tasks),
			CompletedTasks: completed,
			Agents:         len(w.ParticipatingAgents),
			CreatedAt:      w.CreatedAt,
		})
	}
	return out
}

// RegisterTemplate stores a reusable workflow definition under a name.
func (m *Manager) RegisterTemplate(name string, def Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.templates[name]; exists {
		return fmt.Errorf("template %q: %w", name, ErrDuplicateTemplate)
	}
	m.templates[name] = def
	return nil
}

// Templates lists registered template names.
func (m *Manager) Templates() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.templates))
	for name := range m.templates {
		names = append(names, name)
	}
	return names
}

// CreateFromTemplate instantiates a template as a fresh workflow. Node,
// edge and task ids are prefixed with the new workflow id so multiple
// instances of the same template never collide.
func (m *Manager) CreateFromTemplate(templateName, workflowName string) (*Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tpl, ok := m.templates[templateName]
	if !ok {
		return nil, fmt.Errorf("template %q: %w", templateName, ErrUnknownTemplate)
	}

	id := uuid.New().String()
	def := cloneDefinition(tpl, id)
	def.ID = id
	def.Name = workflowName

	w, err := fromDefinition(def)
	if err != nil {
		return nil, err
	}
	m.workflows[w.ID] = w
	return w, nil
}

// Export renders a workflow's structure as a Definition.
func (m *Manager) Export(id string) (Definition, error) {
	w, err := m.Get(id)
	if err != nil {
		return Definition{}, err
	}
	return Export(w), nil
}

// Import builds a workflow from a Definition, validates it, and
// registers it.
func (m *Manager) Import(def Definition) (*Workflow, error) {
	w, err := fromDefinition(def)
	if err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.workflows[w.ID] = w
	m.mu.Unlock()
	return w, nil
}

// Export renders a single workflow's structure as a Definition.
func Export(w *Workflow) Definition {
	def := Definition{
		ID:                  w.ID,
		Name:                w.Name,
		Description:         w.Description,
		Objectives:          append([]string(nil), w.Objectives...),
		Edges:               append([]Edge(nil), w.Edges...),
		Tasks:               append([]*Task(nil), w.Tasks...),
		ParticipatingAgents: append([]string(nil), w.ParticipatingAgents...),
		Pattern:             w.Pattern,
	}
	for _, n := range w.Nodes {
		def.Nodes = append(def.Nodes, EncodeNode(n))
	}
	return def
}

func fromDefinition(def Definition) (*Workflow, error) {
	id := def.ID
	if id == "" {
		id = uuid.New().String()
	}
	w := New(id, def.Name, def.Pattern)
	w.Description = def.Description
	w.Objectives = append([]string(nil), def.Objectives...)
	w.ParticipatingAgents = append([]string(nil), def.ParticipatingAgents...)

	for _, env := range def.Nodes {
		n, err := DecodeNode(env)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: %w", id, err)
		}
		w.AddNode(n)
	}
	for _, e := range def.Edges {
		if err := w.AddEdge(e); err != nil {
			return nil, err
		}
	}
	for _, t := range def.Tasks {
		w.AddTask(t)
	}
	return w, nil
}

func cloneDefinition(def Definition, prefix string) Definition {
	out := Definition{
		Description:         def.Description,
		Objectives:          append([]string(nil), def.Objectives...),
		ParticipatingAgents: append([]string(nil), def.ParticipatingAgents...),
		Pattern:             def.Pattern,
	}

	for _, env := range def.Nodes {
		c := env
		c.ID = prefix + "_" + env.ID
		c.Config = cloneAnyMap(env.Config)
		c.Position = clonePositions(env.Position)
		c.Mapping = cloneStringMap(env.Mapping)
		out.Nodes = append(out.Nodes, c)
	}
	for _, e := range def.Edges {
		c := e
		c.ID = prefix + "_" + e.ID
		c.SourceNode = prefix + "_" + e.SourceNode
		c.TargetNode = prefix + "_" + e.TargetNode
		c.DataMapping = cloneStringMap(e.DataMapping)
		out.Edges = append(out.Edges, c)
	}
	for _, t := range def.Tasks {
		c := *t
		c.ID = prefix + "_" + t.ID
		c.Dependencies = nil
		for _, dep := range t.Dependencies {
			c.Dependencies = append(c.Dependencies, prefix+"_"+dep)
		}
		c.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
		c.Input = cloneAnyMap(t.Input)
		c.Status = StatusPending
		c.AssignedAgent = ""
		c.Output = nil
		out.Tasks = append(out.Tasks, &c)
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clonePositions(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
