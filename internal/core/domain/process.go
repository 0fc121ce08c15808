package domain

import (
	"time"

	"github.com/google/uuid"
)

type ProcessStatus string

const (
	ProcessStatusPending    ProcessStatus = "pending"
	ProcessStatusInProgress ProcessStatus = "in-progress"
	ProcessStatusCompleted  ProcessStatus = "completed"
	ProcessStatusFailed     ProcessStatus = "failed"
)

type ProcessType string

const (
	ProcessTypeSnapshot  ProcessType = "snapshot"
	ProcessTypeUpload    ProcessType = "upload"
	ProcessTypeRetention ProcessType = "retention"
	ProcessTypeImport    ProcessType = "import"
)

// Process is the status marker of a background task, polled through its CommandID.
type Process struct {
	ID        int64                  `db:"id"`
	CommandID string                 `db:"command_id"`
	Command   string                 `db:"command"`
	Status    ProcessStatus          `db:"status"`
	Output    *string                `db:"output"`
	Error     *string                `db:"error"`
	StartTime time.Time              `db:"start_time"`
	EndTime   *time.Time             `db:"end_time"`
	Type      ProcessType            `db:"type"`
	Args      map[string]interface{} `db:"args"`
}

func NewProcess(command string, processType ProcessType, args map[string]interface{}) *Process {
	if args == nil {
		args = map[string]interface{}{}
	}
	return &Process{
		CommandID: uuid.New().String(),
		Command:   command,
		Status:    ProcessStatusPending,
		StartTime: time.Now().UTC(),
		Type:      processType,
		Args:      args,
	}
}

func (p *Process) Start() {
	p.Status = ProcessStatusInProgress
}

func (p *Process) Complete(output string) {
	now := time.Now().UTC()
	p.EndTime = &now
	p.Status = ProcessStatusCompleted
	if output != "" {
		p.Output = &output
	}
}

func (p *Process) Fail(errorOutput string) {
	now := time.Now().UTC()
	p.EndTime = &now
	p.Status = ProcessStatusFailed
	if errorOutput != "" {
		p.Error = &errorOutput
	}
}

func (p *Process) IsComplete() bool {
	return p.Status == ProcessStatusCompleted || p.Status == ProcessStatusFailed
}

// ResourceID is the id of the entity the process acts on, if any.
func (p *Process) ResourceID() *string {
	if id, ok := p.Args["id"].(string); ok && id != "" {
		return &id
	}
	return nil
}
