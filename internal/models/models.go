// Package models defines the GORM-backed entities of the benchmark run engine.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// AdapterKind identifies which wire protocol a Provider speaks.
type AdapterKind string

const (
	AdapterOpenAICompat AdapterKind = "openai-compat"
	AdapterAnthropic    AdapterKind = "anthropic"
	AdapterGemini       AdapterKind = "gemini"
	AdapterCustom       AdapterKind = "custom"
)

// ProblemKind distinguishes text problems (machine judged) from html problems (manually reviewed).
type ProblemKind string

const (
	ProblemKindText ProblemKind = "text"
	ProblemKindHTML ProblemKind = "html"
)

// RunStatus enumerates the lifecycle of a Run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusError     RunStatus = "error"
)

// RunResultStatus enumerates the lifecycle of a RunResult.
type RunResultStatus string

const (
	ResultStatusPending   RunResultStatus = "pending"
	ResultStatusManual    RunResultStatus = "manual"
	ResultStatusCompleted RunResultStatus = "completed"
	ResultStatusCancelled RunResultStatus = "cancelled"
	ResultStatusError     RunResultStatus = "error"
)

// PassThreshold is the minimum score, on a 0-100 scale, considered a pass.
const PassThreshold = 50

// StringList persists a []string as a JSON array column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}

	if len(raw) == 0 {
		*l = nil
		return nil
	}

	return json.Unmarshal(raw, l)
}

// Provider is an external model vendor endpoint.
type Provider struct {
	ID             string      `gorm:"primaryKey" json:"id"`
	Name           string      `json:"name"`
	AdapterKind    AdapterKind `json:"adapter_kind"`
	BaseURL        string      `json:"base_url"`
	Credential     string      `json:"-"`
	DefaultModelID *string     `json:"default_model_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	LastCheckedAt  *time.Time  `json:"last_checked_at,omitempty"`
}

// Model is a vendor model exposed by a Provider.
type Model struct {
	ID            string            `gorm:"primaryKey" json:"id"`
	ProviderID    string            `gorm:"index" json:"provider_id"`
	Label         string            `json:"label"`
	VendorModelID string            `json:"vendor_model_id"`
	Parameters    datatypes.JSONMap `json:"parameters,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ProblemSet groups an ordered collection of Problems.
type ProblemSet struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Problem is a single benchmark task within a ProblemSet.
type Problem struct {
	ID             string      `gorm:"primaryKey" json:"id"`
	ProblemSetID   string      `gorm:"index" json:"problem_set_id"`
	Kind           ProblemKind `json:"kind"`
	Prompt         string      `json:"prompt"`
	ExpectedAnswer *string     `json:"expected_answer,omitempty"`
	HTMLAssets     *string     `json:"html_assets,omitempty"`
	ScoringHints   *string     `json:"scoring_hints,omitempty"`
	CreatedAt      time.Time   `gorm:"index" json:"created_at"`
}

// Run is one execution instance of a ProblemSet against a set of candidate Models.
type Run struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	Name          *string    `json:"name,omitempty"`
	ProblemSetID  string     `gorm:"index" json:"problem_set_id"`
	ModelIDs      StringList `gorm:"type:text" json:"model_ids"`
	JudgeModelID  string     `json:"judge_model_id"`
	Status        RunStatus  `gorm:"index" json:"status"`
	StreamEnabled bool       `json:"stream_enabled"`
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy   *string    `json:"cancelled_by,omitempty"`
}

// RunResult is the persisted outcome of one (run, problem, candidate model) triple.
type RunResult struct {
	ID             string          `gorm:"primaryKey" json:"id"`
	RunID          string          `gorm:"index" json:"run_id"`
	ProblemID      string          `gorm:"index" json:"problem_id"`
	ModelID        string          `gorm:"index" json:"model_id"`
	Output         *string         `json:"output,omitempty"`
	Score          *int            `json:"score,omitempty"`
	Status         RunResultStatus `gorm:"index" json:"status"`
	JudgedBy       *string         `json:"judged_by,omitempty"`
	JudgeReasoning *string         `json:"judge_reasoning,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
}

// Passed reports whether the RunResult's score clears the pass threshold.
func (r RunResult) Passed() bool {
	return r.Score != nil && *r.Score >= PassThreshold
}
