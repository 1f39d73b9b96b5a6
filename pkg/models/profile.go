package models

import "time"

// DriverKind selects the LLM execution backend for an agent.
type DriverKind string

// Driver kinds.
const (
	DriverCLI DriverKind = "cli"
	DriverAPI DriverKind = "api"
)

// DriverKindValidator reports whether k is a known driver kind.
func DriverKindValidator(k DriverKind) bool {
	return k == DriverCLI || k == DriverAPI
}

// AgentConfig binds one agent role to a driver and model, plus role-specific
// knobs. Unused knobs are zero for roles that don't carry them.
type AgentConfig struct {
	DriverKind DriverKind `json:"driver_kind"`
	Model      string     `json:"model"`

	// Architect only: model used for the structured extraction pass.
	ValidatorModel string `json:"validator_model,omitempty"`

	// Reviewer only.
	MaxIterations      int  `json:"max_iterations,omitempty"`
	AutoApproveReviews bool `json:"auto_approve_reviews,omitempty"`
}

// Profile is a named execution configuration. Exactly one profile is active
// at any time; workflows reference profiles by ID and are not retroactively
// affected by profile edits.
type Profile struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Active          bool        `json:"active"`
	Architect       AgentConfig `json:"architect"`
	Developer       AgentConfig `json:"developer"`
	Reviewer        AgentConfig `json:"reviewer"`
	Tracker         string      `json:"tracker,omitempty"`
	WorkingDir      string      `json:"working_dir,omitempty"`
	PlanOutputDir   string      `json:"plan_output_dir,omitempty"`
	PlanPathPattern string      `json:"plan_path_pattern,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// AgentFor returns the config for the given pipeline stage.
func (p *Profile) AgentFor(stage Stage) AgentConfig {
	switch stage {
	case StageArchitect:
		return p.Architect
	case StageReviewer:
		return p.Reviewer
	default:
		return p.Developer
	}
}

// DefaultProfile returns the built-in profile seeded on first startup.
func DefaultProfile() *Profile {
	return &Profile{
		Name:   "default",
		Active: true,
		Architect: AgentConfig{
			DriverKind:     DriverCLI,
			Model:          "claude-sonnet-4-5",
			ValidatorModel: "claude-haiku-4-5",
		},
		Developer: AgentConfig{
			DriverKind: DriverCLI,
			Model:      "claude-sonnet-4-5",
		},
		Reviewer: AgentConfig{
			DriverKind:    DriverCLI,
			Model:         "claude-sonnet-4-5",
			MaxIterations: 2,
		},
		PlanPathPattern: "{issue_id}-plan.md",
	}
}
