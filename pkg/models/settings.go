package models

import "time"

// RestartPolicy controls what happens to non-terminal workflows found in the
// store at process startup.
type RestartPolicy string

// Restart policies. Fail marks interrupted workflows failed with reason
// "orchestrator_restart"; Resume re-enters the state machine at the last
// persisted stage.
const (
	RestartFail   RestartPolicy = "fail"
	RestartResume RestartPolicy = "resume"
)

// ServerSettings is the mutable singleton of runtime settings. Bootstrap
// config (host, port, database path) lives outside the database; everything
// else is here and editable via the API.
type ServerSettings struct {
	MaxConcurrent               int           `json:"max_concurrent"`
	WorkflowStartTimeoutSeconds int           `json:"workflow_start_timeout_seconds"`
	WebsocketIdleTimeoutSeconds int           `json:"websocket_idle_timeout_seconds"`
	EventRetentionDays          int           `json:"event_retention_days"`
	CheckpointRetentionDays     int           `json:"checkpoint_retention_days"`
	StreamToolResults           bool          `json:"stream_tool_results"`
	RestartPolicy               RestartPolicy `json:"restart_policy"`
	UpdatedAt                   time.Time     `json:"updated_at"`
}

// SettingsPatch carries a partial settings update. Nil fields are unchanged.
type SettingsPatch struct {
	MaxConcurrent               *int           `json:"max_concurrent,omitempty"`
	WorkflowStartTimeoutSeconds *int           `json:"workflow_start_timeout_seconds,omitempty"`
	WebsocketIdleTimeoutSeconds *int           `json:"websocket_idle_timeout_seconds,omitempty"`
	EventRetentionDays          *int           `json:"event_retention_days,omitempty"`
	CheckpointRetentionDays     *int           `json:"checkpoint_retention_days,omitempty"`
	StreamToolResults           *bool          `json:"stream_tool_results,omitempty"`
	RestartPolicy               *RestartPolicy `json:"restart_policy,omitempty"`
}

// DefaultServerSettings returns the values seeded on first startup.
func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{
		MaxConcurrent:               3,
		WorkflowStartTimeoutSeconds: 30,
		WebsocketIdleTimeoutSeconds: 30,
		EventRetentionDays:          30,
		CheckpointRetentionDays:     7,
		StreamToolResults:           true,
		RestartPolicy:               RestartFail,
	}
}

// WebsocketIdleTimeout returns the idle timeout as a duration.
func (s *ServerSettings) WebsocketIdleTimeout() time.Duration {
	return time.Duration(s.WebsocketIdleTimeoutSeconds) * time.Second
}

// WorkflowStartTimeout returns the admission handshake budget as a duration.
func (s *ServerSettings) WorkflowStartTimeout() time.Duration {
	return time.Duration(s.WorkflowStartTimeoutSeconds) * time.Second
}
