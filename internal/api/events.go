package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/progress"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// EventSource returns recent progress events, newest first.
type EventSource interface {
	Recent(limit int, stage progress.Stage) []progress.Event
}

// EventsHandler exposes recent progress events.
type EventsHandler struct {
	source EventSource
	logger *zap.Logger
}

// NewEventsHandler wires the source and logger.
func NewEventsHandler(source EventSource, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{source: source, logger: logger}
}

type eventDTO struct {
	CrawlID     string    `json:"crawl_id"`
	TS          time.Time `json:"ts"`
	Stage       string    `json:"stage"`
	Worker      int       `json:"worker"`
	Site        string    `json:"site,omitempty"`
	URL         string    `json:"url,omitempty"`
	Bytes       int64     `json:"bytes,omitempty"`
	Links       int       `json:"links,omitempty"`
	StatusClass string    `json:"status_class,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
	Note        string    `json:"note,omitempty"`
}

// ListEvents handles GET /v1/crawl/events?limit=&stage=. It returns
// {"events": [...]}, 400 for invalid filters or 503 without a source.
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "event source unavailable")
		return
	}
	limit, err := parseLimit(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stage, err := parseStage(r.URL.Query().Get("stage"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events := h.source.Recent(limit, stage)
	out := make([]eventDTO, 0, len(events))
	for _, evt := range events {
		out = append(out, eventDTO{
			CrawlID:     evt.CrawlUUID().String(),
			TS:          evt.TS,
			Stage:       string(evt.Stage),
			Worker:      evt.Worker,
			Site:        evt.Site,
			URL:         evt.URL,
			Bytes:       evt.Bytes,
			Links:       evt.Links,
			StatusClass: string(evt.StatusClass),
			ErrorKind:   evt.ErrorKind,
			DurationMs:  evt.Dur.Milliseconds(),
			Note:        evt.Note,
		})
	}
	h.logger.Debug("listed events", zap.Int("count", len(out)))
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}

func parseStage(raw string) (progress.Stage, error) {
	stage := progress.Stage(strings.ToUpper(strings.TrimSpace(raw)))
	switch stage {
	case "",
		progress.StageCrawlStart, progress.StageCrawlDone, progress.StageCrawlError,
		progress.StageFetchDone, progress.StageFetchError,
		progress.StageSkipDuplicate, progress.StageSkipLimit:
		return stage, nil
	default:
		return "", fmt.Errorf("unknown stage %q", raw)
	}
}
