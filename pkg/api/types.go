package api

import (
	"time"

	"github.com/goran-ethernal/ChainProjector/internal/pipeline"
	"github.com/goran-ethernal/ChainProjector/pkg/entity"
)

// EntityListResponse is one page of entities of a single type.
type EntityListResponse struct {
	Entities   []*entity.Entity `json:"entities"`
	Pagination PaginationResult `json:"pagination"`
}

// PaginationResult contains pagination metadata.
type PaginationResult struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// EntityTypeInfo describes a registered entity type.
type EntityTypeInfo struct {
	Type      string            `json:"type"`
	Fields    map[string]string `json:"fields"`
	Endpoints []string          `json:"endpoints"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	State      pipeline.State `json:"state"`
	HaltReason string         `json:"halt_reason,omitempty"`
}
