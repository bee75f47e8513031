// Package dto defines the request/response wire shapes of the control API.
package dto

import "gorm.io/datatypes"

// CreateRunRequest is the body of create_run. A caller may supply its own
// UUID-like id; the store generates one otherwise.
type CreateRunRequest struct {
	ID           *string  `json:"id,omitempty" validate:"omitempty,uuid4"`
	Name         *string  `json:"name,omitempty"`
	ProblemSetID string   `json:"problem_set_id" validate:"required"`
	ModelIDs     []string `json:"model_ids" validate:"required,min=1"`
	JudgeModelID string   `json:"judge_model_id" validate:"required"`
	Stream       *bool    `json:"stream,omitempty"`
}

// CreateRunResponse is the body create_run returns.
type CreateRunResponse struct {
	ID string `json:"id"`
}

// ExecuteResponse is the body execute(run_id) returns.
type ExecuteResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CancelRunResponse is the body cancel_run returns.
type CancelRunResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Cancelled bool   `json:"cancelled"`
}

// CancelModelResponse is the body cancel_model returns.
type CancelModelResponse struct {
	ID        string `json:"id"`
	ModelID   string `json:"model_id"`
	Cancelled bool   `json:"cancelled"`
}

// ReviewResultRequest is the body of review_result.
type ReviewResultRequest struct {
	Decision string `json:"decision" validate:"required,oneof=pass fail"`
	Notes    string `json:"notes,omitempty"`
}

// CreateProviderRequest is the body used to register a new Provider.
type CreateProviderRequest struct {
	ID             *string `json:"id,omitempty" validate:"omitempty,uuid4"`
	Name           string  `json:"name" validate:"required"`
	AdapterKind    string  `json:"adapter_kind" validate:"required"`
	BaseURL        string  `json:"base_url" validate:"required"`
	Credential     string  `json:"credential,omitempty"`
	DefaultModelID *string `json:"default_model_id,omitempty"`
}

// UpdateProviderRequest is the body used to edit an existing Provider.
type UpdateProviderRequest struct {
	Name           string  `json:"name" validate:"required"`
	BaseURL        string  `json:"base_url" validate:"required"`
	Credential     string  `json:"credential,omitempty"`
	DefaultModelID *string `json:"default_model_id,omitempty"`
}

// CreateModelRequest is the body used to register a Model under a Provider.
type CreateModelRequest struct {
	ID            *string           `json:"id,omitempty" validate:"omitempty,uuid4"`
	ProviderID    string            `json:"provider_id" validate:"required"`
	Label         string            `json:"label" validate:"required"`
	VendorModelID string            `json:"vendor_model_id" validate:"required"`
	Parameters    datatypes.JSONMap `json:"parameters,omitempty"`
}

// UpdateModelRequest is the body used to edit an existing Model.
type UpdateModelRequest struct {
	Label         string            `json:"label" validate:"required"`
	VendorModelID string            `json:"vendor_model_id" validate:"required"`
	Parameters    datatypes.JSONMap `json:"parameters,omitempty"`
}

// CreateProblemSetRequest is the body used to create a ProblemSet.
type CreateProblemSetRequest struct {
	ID          *string `json:"id,omitempty" validate:"omitempty,uuid4"`
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description,omitempty"`
}

// CreateProblemRequest is the body used to add a Problem to a ProblemSet.
type CreateProblemRequest struct {
	ID             *string `json:"id,omitempty" validate:"omitempty,uuid4"`
	Kind           string  `json:"kind" validate:"required,oneof=text html"`
	Prompt         string  `json:"prompt" validate:"required"`
	ExpectedAnswer *string `json:"expected_answer,omitempty"`
	HTMLAssets     *string `json:"html_assets,omitempty"`
	ScoringHints   *string `json:"scoring_hints,omitempty"`
}
