package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/spikeflow/spikeflow/pkg/board/middleware"
	"github.com/spikeflow/spikeflow/pkg/board/response"
	"github.com/spikeflow/spikeflow/pkg/journal"
)

const (
	defaultJournalLimit = 100
	maxJournalLimit     = 1000
)

// JournalHandler serves the lifecycle journal.
type JournalHandler struct {
	journal journal.Journal
}

// NewJournalHandler creates a journal handler. A nil journal serves empty
// pages.
func NewJournalHandler(j journal.Journal) *JournalHandler {
	if j == nil {
		j = journal.Nop{}
	}
	return &JournalHandler{journal: j}
}

// List handles GET /api/v1/journal?kind=&name=&after_seq=&limit=&offset=.
// kind may be repeated or comma separated.
func (h *JournalHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	filter, details := parseJournalFilter(r)
	if len(details) > 0 {
		response.ErrorWithDetails(w, http.StatusBadRequest, response.ErrCodeValidationFailed,
			"invalid query parameters", details, requestID)
		return
	}

	entries, total, err := h.journal.List(r.Context(), filter)
	if err != nil {
		response.Error(w, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable,
			"journal unavailable: "+err.Error(), requestID)
		return
	}
	response.JSON(w, http.StatusOK, response.List{Items: entries, Total: total})
}

func parseJournalFilter(r *http.Request) (*journal.Filter, map[string]interface{}) {
	q := r.URL.Query()
	details := map[string]interface{}{}
	filter := &journal.Filter{
		Name:  strings.TrimSpace(q.Get("name")),
		Limit: defaultJournalLimit,
	}

	for _, raw := range q["kind"] {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				filter.Kinds = append(filter.Kinds, journal.Kind(k))
			}
		}
	}

	if v := q.Get("after_seq"); v != "" {
		seq, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			details["after_seq"] = "must be a non-negative integer"
		}
		filter.AfterSeq = seq
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		switch {
		case err != nil || n <= 0:
			details["limit"] = "must be a positive integer"
		case n > maxJournalLimit:
			filter.Limit = maxJournalLimit
		default:
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			details["offset"] = "must be a non-negative integer"
		}
		filter.Offset = n
	}
	return filter, details
}
