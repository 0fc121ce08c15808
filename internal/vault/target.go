// Package vault stores backup data on the configured shares. A Target is one
// share; keys are slash separated and laid out by the functions in layout.go.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/martijn/vmvault/internal/core/domain"
)

type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Target is a single backup share.
type Target interface {
	Name() string
	Type() string
	Endpoint() string

	Put(ctx context.Context, key string, body io.Reader) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key, or every key below it when key names a prefix.
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Capacity(ctx context.Context) (domain.Capacity, error)
}

// PutJSON writes v as an indented JSON document.
func PutJSON(ctx context.Context, t Target, key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding %s", key)
	}
	return t.Put(ctx, key, bytes.NewReader(data))
}

func GetJSON(ctx context.Context, t Target, key string, v interface{}) error {
	data, err := t.Get(ctx, key)
	if err != nil {
		return err
	}
	return errors.Wrapf(json.Unmarshal(data, v), "decoding %s", key)
}

// Exists reports whether key is present, hiding not-found as false.
func Exists(ctx context.Context, t Target, key string) (bool, error) {
	_, err := t.Stat(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func notFound(key string) error {
	return domain.NewNotFound("object", key)
}
