package shadow

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/percona/percona-shadowwrite-mongodb/config"
	"github.com/percona/percona-shadowwrite-mongodb/errors"
	"github.com/percona/percona-shadowwrite-mongodb/log"
	"github.com/percona/percona-shadowwrite-mongodb/metrics"
	"github.com/percona/percona-shadowwrite-mongodb/topo"
)

// Pool opens and closes sets of targets concurrently.
type Pool struct {
	opener  Opener
	timeout time.Duration
}

// NewPool creates a pool. A non-positive timeout uses [config.DefaultConnectTimeout].
func NewPool(opener Opener, timeout time.Duration) *Pool {
	if opener == nil {
		opener = MongoOpener{}
	}

	return &Pool{opener: opener, timeout: timeout}
}

// OpenAll opens every enabled target concurrently and waits for all attempts.
// Successes and failures keep the order of targets. There is no retry.
func (p *Pool) OpenAll(ctx context.Context, targets []config.Target) ([]*Handle, []*ConnectionError) {
	lg := log.New("shadow:pool")

	enabled := make([]config.Target, 0, len(targets))
	for _, t := range targets {
		if t.Enabled {
			enabled = append(enabled, t)
		}
	}

	conns := make([]Conn, len(enabled))
	errs := make([]error, len(enabled))

	var grp errgroup.Group

	for i, t := range enabled {
		grp.Go(func() error {
			startedAt := time.Now()

			conn, err := openWithTimeout(ctx, p.opener, t, p.timeout)
			if err != nil {
				errs[i] = err
				lg.With(log.String("uri", topo.Redact(t.URI)), log.Elapsed(time.Since(startedAt))).
					Error(err, "Connection failed")

				return nil // every attempt runs to completion
			}

			conns[i] = conn
			lg.With(log.String("uri", topo.Redact(t.URI)), log.Elapsed(time.Since(startedAt))).
				Debug("Connected")

			return nil
		})
	}

	_ = grp.Wait()

	var handles []*Handle

	var failures []*ConnectionError

	for i, t := range enabled {
		if errs[i] != nil {
			failures = append(failures, &ConnectionError{Target: t, Cause: errs[i]})

			continue
		}

		handles = append(handles, newHandle(t, conns[i]))
	}

	metrics.AddConnectionErrors(len(failures))

	return handles, failures
}

// CloseAll closes handles concurrently. Each close is bounded by [config.DisconnectTimeout].
// Every handle is closed even if some fail; the errors are joined.
func (p *Pool) CloseAll(ctx context.Context, handles []*Handle) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	var grp errgroup.Group

	for _, h := range handles {
		grp.Go(func() error {
			ctx, cancel := context.WithTimeout(ctx, config.DisconnectTimeout)
			defer cancel()

			err := h.Close(ctx)
			if err != nil {
				mu.Lock()
				errs = append(errs, errors.Wrap(err, "close "+h.Name()))
				mu.Unlock()
			}

			return nil
		})
	}

	_ = grp.Wait()

	return errors.Join(errs...)
}
