package domain

import "time"

const SettingCategoryJobScheduler = "job_scheduler"

// Setting is a cloud-wide key/value persisted in the database and mirrored to the vault.
type Setting struct {
	Name        string    `db:"name" json:"name"`
	Value       string    `db:"value" json:"value"`
	Category    string    `db:"category" json:"category"`
	Type        string    `db:"type" json:"type"`
	Description string    `db:"description" json:"description"`
	UserID      string    `db:"user_id" json:"user_id"`
	ProjectID   string    `db:"project_id" json:"project_id"`
	Hidden      bool      `db:"hidden" json:"hidden"`
	Public      bool      `db:"public" json:"public"`
	Status      string    `db:"status" json:"status"`
	Version     string    `db:"version" json:"version"`
	Metadata    Metadata  `db:"metadata" json:"metadata"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
