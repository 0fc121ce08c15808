package dto

import "time"

type RetentionRequest struct {
	WorkloadID string `json:"workload_id"`
}

type ImportRequest struct {
	// Migrate imports from another cloud and re-resolves owners
	Migrate     bool     `json:"migrate"`
	WorkloadIDs []string `json:"workload_ids"`
	UserID      string   `json:"user_id"`
	Settings    bool     `json:"settings"`
}

type SettingRequest struct {
	Value       string            `json:"value" binding:"required"`
	Category    string            `json:"category"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Hidden      bool              `json:"hidden"`
	Public      bool              `json:"public"`
	Metadata    map[string]string `json:"metadata"`
}

type SettingResponse struct {
	Name        string            `json:"name"`
	Value       string            `json:"value"`
	Category    string            `json:"category"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Hidden      bool              `json:"hidden"`
	Public      bool              `json:"public"`
	Status      string            `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type SettingListResponse struct {
	Items []SettingResponse `json:"items"`
}
