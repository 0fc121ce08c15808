package dto

import "time"

// ProcessResponse is the marker of a snapshot, retention or import job
type ProcessResponse struct {
	ID              int64                  `json:"id"`
	CommandID       string                 `json:"command_id"`
	Command         string                 `json:"command"`
	Type            string                 `json:"type"`
	Status          string                 `json:"status"`
	StartTime       time.Time              `json:"start_time"`
	EndTime         *time.Time             `json:"end_time,omitempty"`
	DurationSeconds *float64               `json:"duration_seconds,omitempty"`
	Output          *string                `json:"output,omitempty"`
	Error           *string                `json:"error,omitempty"`
	Args            map[string]interface{} `json:"args,omitempty"`
	ResourceID      *string                `json:"resource_id,omitempty"`
	Link            *string                `json:"link,omitempty"`
}

type ProcessListResponse struct {
	Items      []ProcessResponse `json:"items"`
	Pagination PaginationInfo    `json:"pagination"`
}

// AsyncResponse is returned with 202 Accepted. Link points at the status of
// the background job and ResourceID names what it works on.
type AsyncResponse struct {
	Status     string  `json:"status"`
	Link       *string `json:"link,omitempty"`
	CommandID  *string `json:"command_id,omitempty"`
	ResourceID *string `json:"resource_id,omitempty"`
}
