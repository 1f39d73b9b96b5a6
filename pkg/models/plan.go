package models

import "fmt"

// TaskStatus is the per-task execution state within a plan.
type TaskStatus string

// Task status values.
const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is a single unit of developer work within a plan.
type Task struct {
	ID           string     `json:"id"`
	Description  string     `json:"description"`
	Agent        string     `json:"agent"` // always "developer"
	Dependencies []string   `json:"dependencies,omitempty"`
	Status       TaskStatus `json:"status"`
}

// TaskPlan is the structured result of the architect phase.
type TaskPlan struct {
	Goal     string   `json:"goal"`
	KeyFiles []string `json:"key_files,omitempty"`
	Tasks    []Task   `json:"tasks"`
}

// Validate checks structural invariants: non-empty task IDs, unique IDs,
// dependencies referencing known tasks, and an acyclic dependency graph.
func (p *TaskPlan) Validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}
	byID := make(map[string]*Task, len(p.Tasks))
	for i := range p.Tasks {
		t := &p.Tasks[i]
		if t.ID == "" {
			return fmt.Errorf("task %d has empty id", i)
		}
		if _, dup := byID[t.ID]; dup {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		byID[t.ID] = t
	}
	for _, t := range p.Tasks {
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}
	if _, err := p.ExecutionOrder(); err != nil {
		return err
	}
	return nil
}

// ExecutionOrder returns task IDs in a dependency-respecting topological
// order. Ties break on the plan's declared task order, so the result is
// deterministic. Returns an error if the dependency graph has a cycle.
func (p *TaskPlan) ExecutionOrder() ([]string, error) {
	indegree := make(map[string]int, len(p.Tasks))
	dependents := make(map[string][]string, len(p.Tasks))
	for _, t := range p.Tasks {
		indegree[t.ID] += 0
		for _, dep := range t.Dependencies {
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	order := make([]string, 0, len(p.Tasks))
	for {
		// Pick the first declared task with indegree zero that is not yet
		// emitted. Linear rescan keeps declaration order without a heap;
		// plans are small.
		picked := ""
		for _, t := range p.Tasks {
			deg, pending := indegree[t.ID]
			if pending && deg == 0 {
				picked = t.ID
				break
			}
		}
		if picked == "" {
			break
		}
		order = append(order, picked)
		delete(indegree, picked)
		for _, next := range dependents[picked] {
			if _, pending := indegree[next]; pending {
				indegree[next]--
			}
		}
	}

	if len(order) != len(p.Tasks) {
		return nil, fmt.Errorf("dependency cycle involving %d task(s)", len(indegree))
	}
	return order, nil
}

// Task returns the task with the given ID, or nil.
func (p *TaskPlan) Task(id string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// PlanSchema is the JSON Schema the architect's structured extraction pass
// must satisfy. Drivers validate Generate results against it before the plan
// is accepted.
const PlanSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["goal", "tasks"],
  "properties": {
    "goal": {"type": "string", "minLength": 1},
    "key_files": {"type": "array", "items": {"type": "string"}},
    "tasks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "description"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "description": {"type": "string", "minLength": 1},
          "agent": {"type": "string"},
          "dependencies": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`
