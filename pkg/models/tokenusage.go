package models

import "time"

// TokenUsage is one per-call usage row. The core only appends these;
// reporting reads them elsewhere.
type TokenUsage struct {
	ID           int64     `json:"id"`
	WorkflowID   string    `json:"workflow_id"`
	Model        string    `json:"model"`
	Timestamp    time.Time `json:"timestamp"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	DurationMS   int64     `json:"duration_ms"`
}
