package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrCapacityExhausted  = errors.New("capacity exhausted")
	ErrChainIntegrity     = errors.New("chain integrity error")
	ErrRetentionViolation = errors.New("retention violation")
	ErrImport             = errors.New("import error")
	ErrTransport          = errors.New("transport error")
	ErrInvalidState       = errors.New("invalid state")
)

// Error attaches entity context to one of the sentinel kinds above.
// errors.Is matches on Kind, errors.Unwrap yields the cause.
type Error struct {
	Kind    error
	Entity  string
	ID      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Entity != "" {
		fmt.Fprintf(&b, ": %s", e.Entity)
		if e.ID != "" {
			fmt.Fprintf(&b, " %s", e.ID)
		}
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewNotFound(entity, id string) error {
	return &Error{Kind: ErrNotFound, Entity: entity, ID: id}
}

// NewInvalidState reports that entity id is in state current but one of want is required.
func NewInvalidState(entity, id, current string, want ...string) error {
	msg := fmt.Sprintf("status is %q", current)
	if len(want) > 0 {
		msg += fmt.Sprintf(", requires %s", strings.Join(want, " or "))
	}
	return &Error{Kind: ErrInvalidState, Entity: entity, ID: id, Message: msg}
}

func NewCapacityExhausted(required int64, shares int) error {
	return &Error{
		Kind:    ErrCapacityExhausted,
		Message: fmt.Sprintf("no share among %d has %d bytes free", shares, required),
	}
}

func NewChainIntegrity(diskSnapshotID, reason string) error {
	return &Error{Kind: ErrChainIntegrity, Entity: "disk snapshot", ID: diskSnapshotID, Message: reason}
}

// NewRetentionViolation reports that snapshotID still backs disk snapshots of referencedBy.
func NewRetentionViolation(snapshotID string, referencedBy []string) error {
	return &Error{
		Kind:    ErrRetentionViolation,
		Entity:  "snapshot",
		ID:      snapshotID,
		Message: fmt.Sprintf("still referenced by snapshot(s) %s", strings.Join(referencedBy, ", ")),
	}
}

func NewImportError(entity, id string, err error) error {
	return &Error{Kind: ErrImport, Entity: entity, ID: id, Err: err}
}

func NewTransportError(op, key string, err error) error {
	return &Error{Kind: ErrTransport, Entity: op, ID: key, Err: err}
}
