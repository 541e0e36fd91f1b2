// Package writer persists downloaded bars to local storage formats.
package writer

import "github.com/meridian-lab/meridian-trading/internal/types"

// BarWriter is the sink a download streams into. Initialize must be called
// before the first Write; Finalize flushes everything and returns the path
// of the produced artifact. Close is safe after Finalize and on error paths.
type BarWriter interface {
	Initialize() error
	Write(bar types.Bar) error
	Finalize() (string, error)
	Close() error
}
