package models

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func task(id string, deps ...string) Task {
	return Task{ID: id, Description: "work on " + id, Dependencies: deps}
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    TaskPlan
		wantErr string
	}{
		{
			name: "valid chain",
			plan: TaskPlan{Goal: "g", Tasks: []Task{task("a"), task("b", "a")}},
		},
		{
			name:    "no tasks",
			plan:    TaskPlan{Goal: "g"},
			wantErr: "no tasks",
		},
		{
			name:    "empty id",
			plan:    TaskPlan{Goal: "g", Tasks: []Task{task("")}},
			wantErr: "empty id",
		},
		{
			name:    "duplicate id",
			plan:    TaskPlan{Goal: "g", Tasks: []Task{task("a"), task("a")}},
			wantErr: "duplicate task id",
		},
		{
			name:    "unknown dependency",
			plan:    TaskPlan{Goal: "g", Tasks: []Task{task("a", "ghost")}},
			wantErr: "unknown task",
		},
		{
			name:    "two task cycle",
			plan:    TaskPlan{Goal: "g", Tasks: []Task{task("a", "b"), task("b", "a")}},
			wantErr: "cycle",
		},
		{
			name:    "self dependency",
			plan:    TaskPlan{Goal: "g", Tasks: []Task{task("a", "a")}},
			wantErr: "cycle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExecutionOrderRespectsDependencies(t *testing.T) {
	plan := TaskPlan{Goal: "g", Tasks: []Task{
		task("setup"),
		task("migrate", "setup"),
		task("api", "migrate"),
		task("docs", "setup"),
	}}
	order, err := plan.ExecutionOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"setup", "migrate", "api", "docs"}, order)
}

func TestExecutionOrderIsDeclarationStable(t *testing.T) {
	// Independent tasks keep their declared order.
	plan := TaskPlan{Goal: "g", Tasks: []Task{task("c"), task("a"), task("b")}}
	order, err := plan.ExecutionOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestTaskLookup(t *testing.T) {
	plan := TaskPlan{Goal: "g", Tasks: []Task{task("a"), task("b")}}
	require.NotNil(t, plan.Task("b"))
	assert.Equal(t, "b", plan.Task("b").ID)
	assert.Nil(t, plan.Task("missing"))
}

// Random DAGs always yield a complete order where every task follows all of
// its dependencies.
func TestExecutionOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "n")
		plan := TaskPlan{Goal: "g"}
		for i := 0; i < n; i++ {
			tk := task(fmt.Sprintf("t%d", i))
			// Dependencies only point at earlier tasks, so the graph is
			// acyclic by construction.
			for j := 0; j < i; j++ {
				if rapid.Bool().Draw(t, fmt.Sprintf("dep_%d_%d", i, j)) {
					tk.Dependencies = append(tk.Dependencies, fmt.Sprintf("t%d", j))
				}
			}
			plan.Tasks = append(plan.Tasks, tk)
		}

		order, err := plan.ExecutionOrder()
		require.NoError(t, err)
		require.Len(t, order, n)

		position := make(map[string]int, n)
		for i, id := range order {
			position[id] = i
		}
		for _, tk := range plan.Tasks {
			for _, dep := range tk.Dependencies {
				require.Less(t, position[dep], position[tk.ID],
					"%s must run after %s", tk.ID, dep)
			}
		}
	})
}
