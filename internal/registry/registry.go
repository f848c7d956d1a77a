package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/troupehq/troupe/internal/store"
)

var (
	ErrDuplicateAgent   = errors.New("agent already registered")
	ErrUnknownAgent     = errors.New("unknown agent")
	ErrCapacityExceeded = errors.New("agent capacity exceeded")
)

// Role tags what part an agent plays in a collaboration.
type Role string

const (
	RoleCoordinator  Role = "coordinator"
	RoleSpecialist   Role = "specialist"
	RoleValidator    Role = "validator"
	RoleExecutor     Role = "executor"
	RoleResearcher   Role = "researcher"
	RoleCommunicator Role = "communicator"
)

// Status is an agent's availability state.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

// Capability is a named skill an agent declares. Schemas are opaque to
// the engine; they are carried for callers that validate payloads.
type Capability struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
}

// Preferences are collaboration hints: agents named in WorksWellWith
// earn the declaring agent an affinity bonus during assignment.
type Preferences struct {
	WorksWellWith []string `json:"works_well_with,omitempty"`
}

// PerformanceSample is one completed task's record in an agent's
// append-only history.
type PerformanceSample struct {
	TaskID       string        `json:"task_id"`
	Duration     time.Duration `json:"duration"`
	QualityScore float64       `json:"quality_score"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// Registration is the payload used to register an agent.
type Registration struct {
	Name               string       `json:"name"`
	Role               Role         `json:"role"`
	Capabilities       []Capability `json:"capabilities"`
	MaxConcurrentTasks int          `json:"max_concurrent_tasks"`
	Preferences        Preferences  `json:"collaboration_preferences,omitempty"`
}

// agent is the mutable record behind the registry. Load mutations for a
// single agent are serialized by its own mutex, so two concurrent
// reservations can never push it past capacity.
type agent struct {
	mu sync.Mutex

	name         string
	role         Role
	capabilities []Capability
	maxTasks     int
	preferences  Preferences

	status       Status
	currentTasks map[string]struct{}
	history      []PerformanceSample
	lastActive   time.Time
}

// Snapshot is a read-only copy of an agent's state at one instant.
type Snapshot struct {
	Name               string       `json:"name"`
	Role               Role         `json:"role"`
	Capabilities       []Capability `json:"capabilities"`
	MaxConcurrentTasks int          `json:"max_concurrent_tasks"`
	CurrentTasks       []string     `json:"current_tasks"`
	Status             Status       `json:"status"`
	Preferences        Preferences  `json:"collaboration_preferences,omitempty"`
	LastActive         time.Time    `json:"last_active"`
}

// Load is the number of tasks the agent currently holds.
func (s Snapshot) Load() int { return len(s.CurrentTasks) }

// HasCapability reports whether the snapshot declares the named skill.
func (s Snapshot) HasCapability(name string) bool {
	for _, c := range s.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

// MatchCount counts how many of the required capabilities the agent
// declares.
func (s Snapshot) MatchCount(required []string) int {
	n := 0
	for _, r := range required {
		if s.HasCapability(r) {
			n++
		}
	}
	return n
}

// Registry holds the agent pool for one orchestration context. A nil
// store is allowed; registration records are then kept in memory only.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*agent
	store  *store.Store
}

func New(st *store.Store) *Registry {
	return &Registry{
		agents: make(map[string]*agent),
		store:  st,
	}
}

// Register adds an agent to the pool. The agent starts available with
// no current tasks. MaxConcurrentTasks defaults to 3 when unset.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return fmt.Errorf("register: agent name is required")
	}
	if reg.MaxConcurrentTasks <= 0 {
		reg.MaxConcurrentTasks = 3
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[reg.Name]; exists {
		return fmt.Errorf("agent %q: %w", reg.Name, ErrDuplicateAgent)
	}

	r.agents[reg.Name] = &agent{
		name:         reg.Name,
		role:         reg.Role,
		capabilities: append([]Capability(nil), reg.Capabilities...),
		maxTasks:     reg.MaxConcurrentTasks,
		preferences:  reg.Preferences,
		status:       StatusAvailable,
		currentTasks: make(map[string]struct{}),
		lastActive:   time.Now(),
	}

	if r.store != nil {
		if err := r.store.SaveAgentRecord(recordFromRegistration(reg)); err != nil {
			slog.Warn("failed to persist agent record", "agent", reg.Name, "error", err)
		}
	}

	slog.Info("agent registered", "agent", reg.Name, "role", reg.Role, "capabilities", len(reg.Capabilities))
	return nil
}

// Deregister removes an agent from the pool.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[name]; !exists {
		return fmt.Errorf("agent %q: %w", name, ErrUnknownAgent)
	}
	delete(r.agents, name)

	if r.store != nil {
		if err := r.store.DeleteAgentRecord(name); err != nil {
			slog.Warn("failed to delete agent record", "agent", name, "error", err)
		}
	}
	return nil
}

// Get returns a snapshot of the named agent.
func (r *Registry) Get(name string) (Snapshot, error) {
	a, err := r.lookup(name)
	if err != nil {
		return Snapshot{}, err
	}
	return a.snapshot(), nil
}

// List returns snapshots of every registered agent, sorted by name.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	agents := make([]*agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindCandidates returns every agent in eligible whose capability set
// intersects required and whose status is available. Order is
// unspecified; callers re-rank. Pure read.
func (r *Registry) FindCandidates(required, eligible []string) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Snapshot
	for _, name := range eligible {
		a, ok := r.agents[name]
		if !ok {
			continue
		}
		snap := a.snapshot()
		if snap.Status != StatusAvailable {
			continue
		}
		if snap.MatchCount(required) > 0 {
			out = append(out, snap)
		}
	}
	return out
}

// Reserve adds a task to an agent's load. It fails once the agent is at
// capacity. Safe under concurrent invocation for the same agent.
func (r *Registry) Reserve(name, taskID string) error {
	a, err := r.lookup(name)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.currentTasks) >= a.maxTasks {
		return fmt.Errorf("agent %q at %d/%d tasks: %w", name, len(a.currentTasks), a.maxTasks, ErrCapacityExceeded)
	}
	a.currentTasks[taskID] = struct{}{}
	a.lastActive = time.Now()
	if len(a.currentTasks) == a.maxTasks {
		a.status = StatusBusy
	}
	return nil
}

// Release removes a task from an agent's load. Releasing a task the
// agent does not hold is a no-op.
func (r *Registry) Release(name, taskID string) error {
	a, err := r.lookup(name)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.currentTasks, taskID)
	a.lastActive = time.Now()
	if a.status == StatusBusy && len(a.currentTasks) < a.maxTasks {
		a.status = StatusAvailable
	}
	return nil
}

// SetStatus flips an agent's availability. Load is untouched.
func (r *Registry) SetStatus(name string, status Status) error {
	a, err := r.lookup(name)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.status = status
	a.mu.Unlock()
	return nil
}

// RecordPerformance appends a completed-task sample to an agent's
// history.
func (r *Registry) RecordPerformance(name string, sample PerformanceSample) error {
	a, err := r.lookup(name)
	if err != nil {
		return err
	}
	if sample.CompletedAt.IsZero() {
		sample.CompletedAt = time.Now()
	}

	a.mu.Lock()
	a.history = append(a.history, sample)
	a.lastActive = time.Now()
	a.mu.Unlock()
	return nil
}

// PerformanceReport is the rollup of an agent's history and load.
type PerformanceReport struct {
	Agent               string              `json:"agent"`
	Role                Role                `json:"role"`
	TasksCompleted      int                 `json:"tasks_completed"`
	CurrentLoad         int                 `json:"current_load"`
	Capacity            int                 `json:"capacity"`
	CapacityUtilization float64             `json:"capacity_utilization"`
	AverageQuality      float64             `json:"average_quality,omitempty"`
	Recent              []PerformanceSample `json:"recent,omitempty"`
	Status              Status              `json:"status"`
	LastActive          time.Time           `json:"last_active"`
}

// Performance returns the rollup for one agent, including its five most
// recent samples.
func (r *Registry) Performance(name string) (PerformanceReport, error) {
	a, err := r.lookup(name)
	if err != nil {
		return PerformanceReport{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	report := PerformanceReport{
		Agent:               a.name,
		Role:                a.role,
		TasksCompleted:      len(a.history),
		CurrentLoad:         len(a.currentTasks),
		Capacity:            a.maxTasks,
		CapacityUtilization: float64(len(a.currentTasks)) / float64(a.maxTasks),
		Status:              a.status,
		LastActive:          a.lastActive,
	}

	if len(a.history) > 0 {
		sum := 0.0
		for _, s := range a.history {
			sum += s.QualityScore
		}
		report.AverageQuality = sum / float64(len(a.history))

		recent := a.history
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		report.Recent = append([]PerformanceSample(nil), recent...)
	}
	return report, nil
}

func (r *Registry) lookup(name string) (*agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent %q: %w", name, ErrUnknownAgent)
	}
	return a, nil
}

func (a *agent) snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	tasks := make([]string, 0, len(a.currentTasks))
	for id := range a.currentTasks {
		tasks = append(tasks, id)
	}
	sort.Strings(tasks)

	return Snapshot{
		Name:               a.name,
		Role:               a.role,
		Capabilities:       append([]Capability(nil), a.capabilities...),
		MaxConcurrentTasks: a.maxTasks,
		CurrentTasks:       tasks,
		Status:             a.status,
		Preferences:        a.preferences,
		LastActive:         a.lastActive,
	}
}

func recordFromRegistration(reg Registration) *store.AgentRecord {
	caps := make([]string, 0, len(reg.Capabilities))
	for _, c := range reg.Capabilities {
		caps = append(caps, c.Name)
	}
	return &store.AgentRecord{
		Name:               reg.Name,
		Role:               string(reg.Role),
		Capabilities:       caps,
		MaxConcurrentTasks: reg.MaxConcurrentTasks,
	}
}
