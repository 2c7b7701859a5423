// Package incidence orchestrates the submission pipeline: validation, the
// authentication gate, media rehosting, work-order resolution and the final
// ERP post. Expected outcomes are values, not errors: ambiguity and missing
// fields travel in the Result tag.
package incidence

import (
	"encoding/json"

	"incidencia/internal/erp"
)

// Outcome tags the terminal state of one submission attempt.
type Outcome string

const (
	// OutcomeOK means the ERP accepted the record.
	OutcomeOK Outcome = "ok"
	// OutcomeValidationFailed means the payload was rejected before any
	// network call.
	OutcomeValidationFailed Outcome = "validation_failed"
	// OutcomeAuthRequired means the device session holds no usable
	// credential.
	OutcomeAuthRequired Outcome = "auth_required"
	// OutcomeNoTasks means the QR id resolved to zero work orders.
	OutcomeNoTasks Outcome = "no_tasks"
	// OutcomeAmbiguousTasks means the caller must choose among several
	// candidates; Result.Tasks carries every one of them verbatim.
	OutcomeAmbiguousTasks Outcome = "ambiguous_tasks"
	// OutcomeUpstreamFailed means the ERP or a collaborator rejected the
	// attempt; status and body are propagated for diagnostics.
	OutcomeUpstreamFailed Outcome = "upstream_failed"
)

// Terminal reports whether the outcome ends the flow without further input.
// Ambiguity is not terminal: it asks the caller to pick a task and retry.
func (o Outcome) Terminal() bool { return o != OutcomeAmbiguousTasks }

// Asset is one captured media item, inline base64 or an already-hosted URL.
type Asset struct {
	Data     string `json:"data"`
	Filename string `json:"filename"`
}

// Payload is a full incidence report as received from the client.
type Payload struct {
	State         string  `json:"state"`
	IncidenceType string  `json:"incidence_type"`
	Description   string  `json:"description"`
	Observation   string  `json:"observation"`
	Resource      string  `json:"resource"`
	Images        []Asset `json:"images"`
	Audio         []Asset `json:"audio"`
}

// FixationInput is the simpler photo-to-task submission: a scanned QR text,
// one photo and an optional pre-selected task. Selected stays raw so a
// malformed selection is a validation outcome rather than a transport error.
type FixationInput struct {
	QRText   string          `json:"qrtext"`
	Photo    Asset           `json:"photo"`
	Selected json.RawMessage `json:"selected_task,omitempty"`
}

// Result is the tagged outcome of a submission attempt.
type Result struct {
	Outcome        Outcome    `json:"outcome"`
	Message        string     `json:"message,omitempty"`
	Tasks          []erp.Task `json:"tasks,omitempty"`
	Warnings       []string   `json:"warnings,omitempty"`
	UpstreamStatus int        `json:"upstream_status,omitempty"`
	UpstreamBody   string     `json:"upstream_body,omitempty"`
}
