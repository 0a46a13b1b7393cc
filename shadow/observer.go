package shadow

import (
	"time"

	"github.com/percona/percona-shadowwrite-mongodb/capture"
)

// Observer receives dispatch outcomes. Calls come from dispatcher goroutines
// and must be safe for concurrent use.
type Observer interface {
	// DispatchDone is called once a write was replayed (err == nil) or failed on a secondary.
	DispatchDone(h *Handle, w *capture.Write, err error, elapsed time.Duration)
	// WriteDropped is called when a write could not be queued for a secondary.
	WriteDropped(h *Handle, w *capture.Write)
	// WriteSettled is called once every secondary is done with a write.
	WriteSettled(w *capture.Write)
}

// NopObserver ignores all outcomes.
type NopObserver struct{}

func (NopObserver) DispatchDone(*Handle, *capture.Write, error, time.Duration) {}

func (NopObserver) WriteDropped(*Handle, *capture.Write) {}

func (NopObserver) WriteSettled(*capture.Write) {}
