package media

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Progress is one block of ffmpeg "-progress" output.
type Progress struct {
	// OutTime is the timestamp of the last muxed output frame.
	OutTime time.Duration
	// Done is true for the final block (progress=end).
	Done bool
}

// Report summarises a finished ffmpeg run.
type Report struct {
	// OutTime is the last reported output time, or 0 if ffmpeg never reported one.
	OutTime time.Duration
	// Ended reports whether ffmpeg emitted its final progress=end block.
	Ended bool
}

// ReadProgress consumes ffmpeg "-progress" key=value output from r until EOF,
// calling onProgress (when non-nil) at the end of each block.
func ReadProgress(r io.Reader, onProgress func(Progress)) Report {
	var (
		report  Report
		current time.Duration
		haveUS  bool
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}

		switch key {
		case "out_time_us":
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
				current = time.Duration(us) * time.Microsecond
				haveUS = true
			}
		case "out_time_ms":
			// Despite the name, ffmpeg reports microseconds here too.
			if haveUS {
				continue
			}
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
				current = time.Duration(us) * time.Microsecond
			}
		case "progress":
			p := Progress{OutTime: current, Done: value == "end"}
			report.OutTime = current
			if p.Done {
				report.Ended = true
			}
			if onProgress != nil {
				onProgress(p)
			}
			haveUS = false
		}
	}

	// Drain whatever is left so the writer never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
	return report
}
