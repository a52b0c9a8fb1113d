package lifecycle

import "github.com/MartinHagen/SubEngine/app/models"

// Code classifies the outcome of a lifecycle operation.
type Code string

const (
	CodeOK                Code = "ok"
	CodeNoop              Code = "noop"
	CodeInvalidTransition Code = "invalid_transition"
	CodeNotFound          Code = "not_found"
	CodeNotYetEnded       Code = "not_yet_ended"
)

// Result is the explicit outcome of a single lifecycle operation. Expected
// business-rule failures (invalid transition, unknown id) come back here with
// OK = false; only store faults travel on the error channel.
type Result struct {
	OK           bool                 `json:"ok"`
	Code         Code                 `json:"code"`
	Message      string               `json:"message"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}

func reject(code Code, message string) *Result {
	return &Result{OK: false, Code: code, Message: message}
}
