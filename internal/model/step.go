package model

import "time"

// StepStatus is the state of one self-healing pipeline step.
type StepStatus string

const (
	StepInProgress StepStatus = "in_progress"
	StepSuccess    StepStatus = "success"
	StepError      StepStatus = "error"
	StepSkipped    StepStatus = "skipped"
)

// Pipeline step names, emitted in this order. A run is terminal once
// StepPipelineComplete succeeds or any step reports error/skipped.
const (
	StepCheckEnabled     = "check_enabled"
	StepCooldownCheck    = "cooldown_check"
	StepGenerateConfig   = "generate_config"
	StepValidateConfig   = "validate_config"
	StepSaveConfig       = "save_config"
	StepGithubCommit     = "github_commit"
	StepPipelineComplete = "pipeline_complete"
)

// StepRecord is one progress event from the self-healing pipeline.
type StepRecord struct {
	Source     string         `json:"source"`
	Step       string         `json:"step"`
	Status     StepStatus     `json:"status"`
	Message    string         `json:"message,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	At         time.Time      `json:"at"`
}

// CooldownMarker bounds AI call frequency per source. Upserted after every
// AI-assisted attempt, successful or not.
type CooldownMarker struct {
	SourceID        string    `json:"source_id"`
	LastFingerprint string    `json:"last_fingerprint"`
	LastAttempt     time.Time `json:"last_attempt"`
	LastQuoteCount  int       `json:"last_quote_count"`
}
