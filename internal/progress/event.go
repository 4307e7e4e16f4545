package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names the milestone an Event reports.
type Stage string

// Crawl stages.
const (
	StageCrawlStart    Stage = "CRAWL_START"
	StageCrawlDone     Stage = "CRAWL_DONE"
	StageCrawlError    Stage = "CRAWL_ERROR"
	StageFetchDone     Stage = "FETCH_DONE"
	StageFetchError    Stage = "FETCH_ERROR"
	StageSkipDuplicate Stage = "SKIP_DUPLICATE"
	StageSkipLimit     Stage = "SKIP_LIMIT"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// HTTP status classes.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is one progress record.
type Event struct {
	// CrawlID identifies the crawl run in 16-byte UUID form.
	CrawlID [16]byte
	// TS is the UTC time the event was produced.
	TS    time.Time
	Stage Stage
	// Worker is the index of the emitting worker, -1 for the dispatcher.
	Worker int
	// Site is the host label of URL.
	Site string
	URL  string
	// Bytes is the size of the extracted body text.
	Bytes int64
	// Links is the number of outbound links found on the page.
	Links       int
	StatusClass StatusClass
	// ErrorKind is one of the crawler.ErrorKind* values for FETCH_ERROR.
	ErrorKind string
	Dur       time.Duration
	// Note carries low-volume context such as an error message.
	Note string
}

// Validate performs coarse validation on an Event.
func (e Event) Validate() error {
	if e.CrawlID == [16]byte{} {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StageCrawlError:
	case StageFetchDone:
		if e.URL == "" {
			return errors.New("fetch done requires url")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageFetchError:
		if e.URL == "" {
			return errors.New("fetch error requires url")
		}
		if e.ErrorKind == "" {
			return errors.New("fetch error requires error kind")
		}
	case StageSkipDuplicate, StageSkipLimit:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Links < 0 {
		return errors.New("links must be >= 0")
	}
	return nil
}

// CrawlUUID returns the crawl ID as a uuid.UUID.
func (e Event) CrawlUUID() uuid.UUID {
	return uuid.UUID(e.CrawlID)
}

// UUIDToBytes converts a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
