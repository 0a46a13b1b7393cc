package shadow

import (
	"context"
	"time"

	"github.com/percona/percona-shadowwrite-mongodb/config"
	"github.com/percona/percona-shadowwrite-mongodb/errors"
	"github.com/percona/percona-shadowwrite-mongodb/log"
	"github.com/percona/percona-shadowwrite-mongodb/topo"
	"github.com/percona/percona-shadowwrite-mongodb/util"
)

type openResult struct {
	conn Conn
	err  error
}

// openWithTimeout opens t and gives up after timeout (default [config.DefaultConnectTimeout]).
// The attempt is not awaited once it lost the race: a connection that completes late
// is closed in the background.
func openWithTimeout(
	ctx context.Context,
	opener Opener,
	t config.Target,
	timeout time.Duration,
) (Conn, error) {
	if timeout <= 0 {
		timeout = config.DefaultConnectTimeout
	}

	openCtx, cancel := context.WithCancel(ctx)
	resultC := make(chan openResult, 1)

	go func() {
		conn, err := opener.Open(openCtx, t)
		resultC <- openResult{conn, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultC:
		cancel()

		if res.err != nil {
			return nil, errors.Wrap(res.err, "open")
		}

		if res.conn == nil {
			return nil, errors.New("open: no connection")
		}

		return res.conn, nil

	case <-timer.C:
		cancel()
		go reapLate(ctx, t, resultC)

		return nil, &TimeoutError{Timeout: timeout}

	case <-ctx.Done():
		cancel()
		go reapLate(ctx, t, resultC)

		return nil, errors.Wrap(ctx.Err(), "open")
	}
}

// reapLate closes a connection that was opened after its attempt was abandoned.
func reapLate(ctx context.Context, t config.Target, resultC <-chan openResult) {
	res := <-resultC
	if res.err != nil || res.conn == nil {
		return
	}

	lg := log.New("shadow:pool").With(log.String("uri", topo.Redact(t.URI)))
	lg.Debug("Closing late connection")

	err := util.CtxWithTimeout(util.Detached(ctx), config.DisconnectTimeout, res.conn.Close)
	if err != nil {
		lg.Error(err, "Close late connection")
	}
}
