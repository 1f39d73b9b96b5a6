package agent

import (
	"fmt"
	"strings"

	"github.com/amelia-dev/amelia/pkg/models"
)

const architectInstructions = `You are the architect for an automated development pipeline.
Study the repository in the working directory and produce an implementation plan
for the issue you are given. Do not modify any files. Your final message must
describe the goal, the key files involved, and an ordered list of small,
independently verifiable tasks with explicit dependencies between them.`

const planExtractionPrompt = `Extract the implementation plan below into a JSON object with
"goal" (string), "key_files" (array of strings), and "tasks" (array of objects
with "id", "description", "agent", "dependencies"). Use short stable task ids
like "t1", "t2". Set "agent" to "developer" on every task. Respond with only
the JSON object.

Plan:
%s`

const developerInstructions = `You are the developer for an automated development pipeline.
Implement exactly the task you are given, staying inside the working directory.
Make the smallest change that completes the task, keep the code consistent with
its surroundings, and leave the tree compiling.`

const reviewerInstructions = `You are the reviewer for an automated development pipeline.
Run "git diff HEAD" in the working directory and review the change against the
plan you are given. Judge correctness, completeness relative to the plan, and
regressions. Your final message must state whether you approve and list any
issues that must be fixed.`

// buildArchitectPrompt is the user prompt for the planning run.
func buildArchitectPrompt(w *models.Workflow, title, description string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan the implementation of issue %s.\n", w.IssueID)
	if title != "" {
		fmt.Fprintf(&b, "\nTitle: %s\n", title)
	}
	if description != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", description)
	}
	return b.String()
}

// buildDeveloperPrompt is the user prompt for one task execution.
func buildDeveloperPrompt(plan *models.TaskPlan, task *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall goal: %s\n\n", plan.Goal)
	fmt.Fprintf(&b, "Your task (%s): %s\n", task.ID, task.Description)
	if len(task.Dependencies) > 0 {
		fmt.Fprintf(&b, "\nAlready completed prerequisite tasks: %s\n",
			strings.Join(task.Dependencies, ", "))
	}
	return b.String()
}

// buildReviewerPrompt is the user prompt for one review pass.
func buildReviewerPrompt(plan *models.TaskPlan, iteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review iteration %d.\n\nPlan goal: %s\n\nTasks:\n", iteration, plan.Goal)
	for _, t := range plan.Tasks {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", t.ID, t.Description, t.Status)
	}
	return b.String()
}

// buildRevisionPrompt asks the developer to address review findings.
func buildRevisionPrompt(verdict *ReviewVerdict) string {
	var b strings.Builder
	b.WriteString("The reviewer rejected the change. Address every issue below, then stop.\n\n")
	for _, issue := range verdict.Issues {
		fmt.Fprintf(&b, "- %s\n", issue)
	}
	return b.String()
}
