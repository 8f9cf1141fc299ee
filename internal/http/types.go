package http

import (
	"time"

	"github.com/fyrsmithlabs/councild/internal/archive"
	"github.com/fyrsmithlabs/councild/internal/ceremony"
	"github.com/fyrsmithlabs/councild/internal/council"
	"github.com/fyrsmithlabs/councild/internal/field"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Services map[string]string `json:"services"`
	Counts   StatusCounts      `json:"counts"`
	Field    FieldResponse     `json:"field"`
}

// StatusCounts contains count information for the hub's components.
type StatusCounts struct {
	Agents           int `json:"agents"`
	Definitions      int `json:"definitions"`
	ActiveCeremonies int `json:"active_ceremonies"`
	ArchiveEntries   int `json:"archive_entries"` // -1 when the archive is disabled
}

// FieldResponse is the response body for GET /api/v1/field.
type FieldResponse struct {
	field.State
	Presence string `json:"presence"`
	Online   bool   `json:"online"`
}

// ScheduledDefinition is a ceremony definition with its next fire time.
type ScheduledDefinition struct {
	ceremony.Definition
	Next *time.Time `json:"next,omitempty"`
}

// CeremoniesResponse is the response body for GET /api/v1/ceremonies.
type CeremoniesResponse struct {
	Definitions []ScheduledDefinition `json:"definitions"`
	Active      []ceremony.Instance   `json:"active"`
}

// StartResponse is the response body for POST /api/v1/ceremonies/:id/start.
type StartResponse struct {
	InstanceID string `json:"instance_id"`
	Channel    string `json:"channel"`
}

// OracleRequest is the request body for POST /api/v1/oracle.
type OracleRequest struct {
	Question string `json:"question"`
}

// CouncilRequest is the request body for POST /api/v1/council.
type CouncilRequest struct {
	Topic string `json:"topic"`
}

// CouncilResponse is the response body for POST /api/v1/council.
type CouncilResponse struct {
	Session   *council.Session  `json:"session"`
	Synthesis council.Synthesis `json:"synthesis"`
}

// WisdomResponse is the response body for GET /api/v1/wisdom. Results is
// set for searches, Entries otherwise.
type WisdomResponse struct {
	Entries []archive.Entry  `json:"entries,omitempty"`
	Results []archive.Result `json:"results,omitempty"`
}
