package vault

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/martijn/vmvault/internal/core/domain"
)

// retryTarget retries every operation of the wrapped target a bounded
// number of times. Not-found is final; exhaustion becomes a TransportError.
type retryTarget struct {
	Target
	retryArgs retry.CallArgs
	log       logrus.FieldLogger
}

// WithRetry wraps t so each operation is attempted 1+retryCount times, delay apart.
func WithRetry(t Target, retryCount int, delay time.Duration, clk clock.Clock, log logrus.FieldLogger) Target {
	if clk == nil {
		clk = clock.WallClock
	}
	return &retryTarget{
		Target: t,
		retryArgs: retry.CallArgs{
			IsFatalError: func(err error) bool { return errors.Is(err, domain.ErrNotFound) },
			Attempts:     retryCount + 1,
			Delay:        delay,
			Clock:        clk,
		},
		log: log.WithField("share", t.Name()),
	}
}

func (r *retryTarget) call(ctx context.Context, op, key string, fn func() error) error {
	args := r.retryArgs // a copy
	args.Stop = ctx.Done()

	var lastErr error
	args.Func = func() error {
		lastErr = fn()
		return lastErr
	}
	args.NotifyFunc = func(err error, attempt int) {
		r.log.WithError(err).WithFields(logrus.Fields{
			"op":      op,
			"key":     key,
			"attempt": attempt,
		}).Warn("Vault operation failed, retrying")
	}

	err := retry.Call(args)
	if err == nil {
		return nil
	}
	if retry.IsAttemptsExceeded(err) {
		return domain.NewTransportError(op, key, lastErr)
	}
	if retry.IsRetryStopped(err) {
		return errors.Wrapf(ctx.Err(), "%s %s", op, key)
	}
	// Fatal errors come back unwrapped
	return err
}

func (r *retryTarget) Put(ctx context.Context, key string, body io.Reader) error {
	// Each attempt needs the payload from the start
	seeker, ok := body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return errors.Wrapf(err, "reading payload for %s", key)
		}
		seeker = bytes.NewReader(data)
	}
	return r.call(ctx, "put", key, func() error {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return err
		}
		return r.Target.Put(ctx, key, seeker)
	})
}

func (r *retryTarget) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := r.call(ctx, "get", key, func() error {
		var err error
		data, err = r.Target.Get(ctx, key)
		return err
	})
	return data, err
}

func (r *retryTarget) Delete(ctx context.Context, key string) error {
	return r.call(ctx, "delete", key, func() error {
		return r.Target.Delete(ctx, key)
	})
}

func (r *retryTarget) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.call(ctx, "list", prefix, func() error {
		var err error
		keys, err = r.Target.List(ctx, prefix)
		return err
	})
	return keys, err
}

func (r *retryTarget) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	var info ObjectInfo
	err := r.call(ctx, "stat", key, func() error {
		var err error
		info, err = r.Target.Stat(ctx, key)
		return err
	})
	return info, err
}

func (r *retryTarget) Capacity(ctx context.Context) (domain.Capacity, error) {
	var c domain.Capacity
	err := r.call(ctx, "capacity", "", func() error {
		var err error
		c, err = r.Target.Capacity(ctx)
		return err
	})
	return c, err
}
