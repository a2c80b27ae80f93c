package progress

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDiscovered Stage = "RUN_DISCOVERED"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
	StagePageStart     Stage = "PAGE_START"
	StagePageDone      Stage = "PAGE_DONE"
	StagePageError     Stage = "PAGE_ERROR"
)

// IsRun reports whether s describes the run as a whole.
func (s Stage) IsRun() bool {
	switch s {
	case StageRunStart, StageRunDiscovered, StageRunDone, StageRunError:
		return true
	}
	return false
}

// Event captures one run or page milestone.
type Event struct {
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// URL is the root URL for run stages and the page URL for page stages.
	URL string
	// Site is the host of URL; Hub.Emit fills it in when empty.
	Site string
	// Pages is the number of discovered URLs (RUN_DISCOVERED) or rendered
	// pages (RUN_DONE).
	Pages int
	// Bytes is the PDF size for PAGE_DONE and the merged size for RUN_DONE.
	Bytes    int64
	Attempts int
	// StatusCode is the main document's HTTP status when known.
	StatusCode int
	Dur        time.Duration
	// Note carries low-volume context such as the error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDiscovered, StageRunDone, StageRunError:
	case StagePageStart, StagePageDone, StagePageError:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Attempts < 0 || e.Pages < 0 || e.Bytes < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}

// SiteOf returns the host label for rawURL, or "unknown".
func SiteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

// StatusClass groups HTTP status codes for metrics labels.
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}
