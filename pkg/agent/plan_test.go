package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amelia-dev/amelia/pkg/models"
)

const planJSON = `{
	"goal": "add retry support",
	"key_files": ["client.go"],
	"tasks": [
		{"id": "t1", "description": "add backoff helper"},
		{"id": "t2", "description": "wire retries into client", "dependencies": ["t1"]}
	]
}`

func TestParsePlan(t *testing.T) {
	t.Run("bare JSON", func(t *testing.T) {
		plan, err := ParsePlan(planJSON)
		require.NoError(t, err)
		assert.Equal(t, "add retry support", plan.Goal)
		require.Len(t, plan.Tasks, 2)
		assert.Equal(t, "developer", plan.Tasks[0].Agent)
		assert.Equal(t, models.TaskPending, plan.Tasks[0].Status)
	})

	t.Run("fenced block in markdown", func(t *testing.T) {
		doc := "# Plan\n\nSome prose.\n\n```json\n" + planJSON + "\n```\n"
		plan, err := ParsePlan(doc)
		require.NoError(t, err)
		assert.Equal(t, "add retry support", plan.Goal)
	})

	t.Run("not JSON", func(t *testing.T) {
		_, err := ParsePlan("just a markdown plan with no structure")
		require.Error(t, err)
	})

	t.Run("cyclic dependencies rejected", func(t *testing.T) {
		_, err := ParsePlan(`{
			"goal": "g",
			"tasks": [
				{"id": "a", "description": "x", "dependencies": ["b"]},
				{"id": "b", "description": "y", "dependencies": ["a"]}
			]
		}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle")
	})
}

func TestRenderPlanMarkdown(t *testing.T) {
	plan, err := ParsePlan(planJSON)
	require.NoError(t, err)

	md := RenderPlanMarkdown("AM-7", plan)
	assert.Contains(t, md, "# Plan: AM-7")
	assert.Contains(t, md, "**Goal:** add retry support")
	assert.Contains(t, md, "`client.go`")
	assert.Contains(t, md, "- **t2**: wire retries into client _(after t1)_")
}

func TestPlanFilePath(t *testing.T) {
	w := &models.Workflow{ID: "wf-1", IssueID: "AM-7", WorktreeName: "feature-x"}

	profile := &models.Profile{PlanOutputDir: "/plans", PlanPathPattern: "{issue_id}-plan.md"}
	assert.Equal(t, "/plans/AM-7-plan.md", PlanFilePath(profile, w))

	profile.PlanPathPattern = "{worktree_name}/{workflow_id}.md"
	assert.Equal(t, "/plans/feature-x/wf-1.md", PlanFilePath(profile, w))

	// No output dir means no file.
	assert.Equal(t, "", PlanFilePath(&models.Profile{}, w))
}

func TestWritePlanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "plan.md")
	require.NoError(t, WritePlanFile(path, "# Plan\n"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Plan\n", string(content))
}
