// Package assign matches ready workflow tasks to registered agents by
// capability fit, current load and collaboration affinity.
package assign

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/troupehq/troupe/internal/registry"
	"github.com/troupehq/troupe/internal/workflow"
)

// affinityBonus is applied when a candidate prefers working with another
// agent participating in the same workflow.
const affinityBonus = 1.2

// Result reports which agent got which task and which tasks no agent
// could take. Unassignable is a soft signal; tasks listed there stay
// pending and may be retried once load drains.
type Result struct {
	Assignments  map[string]string `json:"assignments"`
	Unassignable []string          `json:"unassignable,omitempty"`
}

// Assigner ranks candidates from a registry.
type Assigner struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Assigner {
	return &Assigner{reg: reg}
}

// Assign walks the workflow's ready tasks in priority order and gives
// each to the best-scoring available agent. Winning agents are reserved
// immediately, so a later task in the same pass sees the updated load.
func (a *Assigner) Assign(w *workflow.Workflow) (Result, error) {
	res := Result{Assignments: make(map[string]string)}

	for _, task := range a.orderedReady(w) {
		agentName, ok := a.pick(w, task)
		if !ok {
			res.Unassignable = append(res.Unassignable, task.ID)
			slog.Debug("no agent available", "workflow", w.ID, "task", task.ID)
			continue
		}

		if err := a.reg.Reserve(agentName, task.ID); err != nil {
			return res, fmt.Errorf("reserve %s for task %s: %w", agentName, task.ID, err)
		}
		task.AssignedAgent = agentName
		task.Status = workflow.StatusAssigned
		res.Assignments[task.ID] = agentName
		slog.Info("task assigned", "workflow", w.ID, "task", task.ID, "agent", agentName)
	}

	return res, nil
}

// orderedReady materializes the ready set sorted by priority descending,
// ties broken by fewer dependents first, then by task id for stability.
func (a *Assigner) orderedReady(w *workflow.Workflow) []*workflow.Task {
	var tasks []*workflow.Task
	for t := range w.ReadyTasks() {
		tasks = append(tasks, t)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		di, dj := w.DependentCount(tasks[i].ID), w.DependentCount(tasks[j].ID)
		if di != dj {
			return di < dj
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks
}

// pick returns the best agent for a task, or false when no candidate
// scores above zero.
func (a *Assigner) pick(w *workflow.Workflow, task *workflow.Task) (string, bool) {
	candidates := a.reg.FindCandidates(task.RequiredCapabilities, w.ParticipatingAgents)
	if len(candidates) == 0 {
		return "", false
	}

	best := ""
	bestScore := 0.0
	for _, c := range candidates {
		s := Score(c, task.RequiredCapabilities, w.ParticipatingAgents)
		if s <= 0 {
			continue
		}
		// Ties go to the lexicographically smaller name so repeated
		// runs over the same state produce the same assignment.
		if s > bestScore || (s == bestScore && (best == "" || c.Name < best)) {
			best = c.Name
			bestScore = s
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// Score rates one candidate for one task:
//
//	capability fit  = matched required capabilities / total required
//	headroom        = 1 - current load / capacity
//	affinity        = 1.2 when the candidate prefers a co-participant
//
// The product is zero when the candidate is at capacity, which removes
// it from contention without an error.
func Score(c registry.Snapshot, required, participants []string) float64 {
	if len(required) == 0 || c.MaxConcurrentTasks == 0 {
		return 0
	}

	fit := float64(c.MatchCount(required)) / float64(len(required))
	headroom := 1 - float64(c.Load())/float64(c.MaxConcurrentTasks)

	affinity := 1.0
	for _, pref := range c.Preferences.WorksWellWith {
		if pref == c.Name {
			continue
		}
		for _, p := range participants {
			if p == pref {
				affinity = affinityBonus
				break
			}
		}
		if affinity > 1 {
			break
		}
	}

	return fit * headroom * affinity
}
