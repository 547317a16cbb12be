package export

import (
	"context"
	"time"

	"github.com/maauso/vidmerge/internal/mergeopts"
	"github.com/maauso/vidmerge/internal/timeline"
)

// Backend names, as selected by configuration.
const (
	BackendComposition = "composition"
	BackendMux         = "mux"
	BackendProcess     = "process"
)

// Request is one export.
type Request struct {
	// Key tags progress events.
	Key      string
	Timeline *timeline.Timeline
	Options  mergeopts.Options
	// Progress receives progress events. May be nil.
	Progress ProgressFunc
}

// Result is a finished export.
type Result struct {
	Output   string
	Duration time.Duration
}

// Backend turns a timeline into an output file. Failures are *mergeerr.Error.
type Backend interface {
	Name() string
	Export(ctx context.Context, req Request) (Result, error)
}
