package vault

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/pkg/config"
)

// Registry holds the configured targets in declared (priority) order.
type Registry struct {
	targets []Target
	byName  map[string]Target
	log     logrus.FieldLogger
}

func NewRegistry(targets []Target, log logrus.FieldLogger) *Registry {
	r := &Registry{
		targets: targets,
		byName:  make(map[string]Target, len(targets)),
		log:     log,
	}
	for _, t := range targets {
		r.byName[t.Name()] = t
	}
	return r
}

// NewRegistryFromConfig builds a retrying target for every configured share.
func NewRegistryFromConfig(ctx context.Context, cfg *config.Config, fs afero.Fs, log logrus.FieldLogger) (*Registry, error) {
	targets := make([]Target, 0, len(cfg.Shares))
	for _, share := range cfg.Shares {
		var t Target
		switch share.Type {
		case config.ShareTypeLocal:
			t = NewLocalTarget(share.Name, share.Path, share.CapacityBytes, fs)
		case config.ShareTypeNFS:
			t = NewNFSTarget(share.Name, share.Export, cfg.VaultDataDirectory, share.CapacityBytes, fs)
		case config.ShareTypeS3:
			store, err := NewObjectStoreTarget(ctx, share, cfg.VaultSegmentSize, log)
			if err != nil {
				return nil, err
			}
			t = store
		default:
			return nil, fmt.Errorf("share %s: unsupported type %q", share.Name, share.Type)
		}
		targets = append(targets, WithRetry(t, cfg.VaultRetryCount, cfg.VaultRetryDelay, clock.WallClock, log))
	}
	return NewRegistry(targets, log), nil
}

func (r *Registry) Targets() []Target {
	return r.targets
}

func (r *Registry) Get(name string) (Target, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, domain.NewNotFound("share", name)
	}
	return t, nil
}

// Shares queries the capacity of every target in parallel. A share whose
// capacity cannot be read is reported offline instead of failing the call.
func (r *Registry) Shares(ctx context.Context) []domain.BackupShare {
	shares := make([]domain.BackupShare, len(r.targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range r.targets {
		i, t := i, t
		shares[i] = domain.BackupShare{
			Name:     t.Name(),
			Type:     t.Type(),
			Endpoint: t.Endpoint(),
			Priority: i,
		}
		g.Go(func() error {
			capacity, err := t.Capacity(gctx)
			if err != nil {
				r.log.WithError(err).WithField("share", t.Name()).Warn("Share is offline")
				shares[i].Error = err.Error()
				return nil
			}
			shares[i].Online = true
			shares[i].Capacity = capacity
			r.log.WithFields(logrus.Fields{
				"share": t.Name(),
				"total": humanize.IBytes(uint64(capacity.Total)),
				"free":  humanize.IBytes(uint64(capacity.Free())),
			}).Debug("Share capacity")
			return nil
		})
	}
	_ = g.Wait()
	return shares
}

// Locate returns the first target holding key.
func (r *Registry) Locate(ctx context.Context, key string) (Target, error) {
	for _, t := range r.targets {
		ok, err := Exists(ctx, t, key)
		if err != nil {
			r.log.WithError(err).WithField("share", t.Name()).Warn("Could not check share")
			continue
		}
		if ok {
			return t, nil
		}
	}
	return nil, errors.WithStack(domain.NewNotFound("object", key))
}
