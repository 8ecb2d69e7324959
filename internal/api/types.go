package api

import (
	"compliance-core/internal/audit"
	"compliance-core/internal/retention"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ListResponse is a page of items with its total
type ListResponse struct {
	Items  any   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// CancelRequest is the body of a deletion cancel call
type CancelRequest struct {
	Reason string `json:"reason"`
}

// RestoreResponse carries a restore record and the entries read back
type RestoreResponse struct {
	Restore *retention.RestoreRequest `json:"restore"`
	Entries []audit.AuditEntry        `json:"entries"`
}
