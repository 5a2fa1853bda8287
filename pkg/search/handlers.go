package search

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/reindexer/pkg/httputil"
	"github.com/platinummonkey/reindexer/pkg/job"
)

// JobInspector reads and interrupts tracked jobs. job.Runner implements it.
type JobInspector interface {
	Status(ctx context.Context, jobID int64) (*job.JobStatus, error)
	Interrupt(ctx context.Context, rootID int64) error
}

// Handlers serves the reindex, job status and search API
type Handlers struct {
	classes   ClassResolver
	jobs      JobInspector
	publisher Publisher
	searcher  Searcher
}

// NewHandlers creates the API handlers. searcher may be nil when the index
// backend cannot answer queries.
func NewHandlers(classes ClassResolver, jobs JobInspector, publisher Publisher, searcher Searcher) *Handlers {
	return &Handlers{
		classes:   classes,
		jobs:      jobs,
		publisher: publisher,
		searcher:  searcher,
	}
}

// RegisterRoutes registers the API routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/reindex", h.reindex).Methods("POST")
	api.HandleFunc("/jobs/{id:[0-9]+}", h.jobStatus).Methods("GET")
	api.HandleFunc("/jobs/{id:[0-9]+}/interrupt", h.interrupt).Methods("POST")
	api.HandleFunc("/classes", h.listClasses).Methods("GET")
	api.HandleFunc("/search", h.search).Methods("GET")
}

// reindex handles POST /api/v1/reindex
func (h *Handlers) reindex(w http.ResponseWriter, r *http.Request) {
	var req ReindexRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	for _, class := range req.Classes {
		if _, err := h.classes.ManagerForClass(class); err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
	}

	id, err := h.publisher.Send(r.Context(), TopicReindex, req)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	_ = httputil.WriteAccepted(w, map[string]string{"message_id": id})
}

// jobStatus handles GET /api/v1/jobs/{id}
func (h *Handlers) jobStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	status, err := h.jobs.Status(r.Context(), id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, status)
}

// interrupt handles POST /api/v1/jobs/{id}/interrupt
func (h *Handlers) interrupt(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.jobs.Interrupt(r.Context(), id); err != nil {
		writeJobError(w, err)
		return
	}
	_ = httputil.WriteAccepted(w, map[string]int64{"job_id": id})
}

// listClasses handles GET /api/v1/classes
func (h *Handlers) listClasses(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, map[string][]string{"classes": h.classes.Classes()})
}

// search handles GET /api/v1/search?q=&class=&limit=
func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, ErrSearchUnsupported.Error())
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", defaultSearchLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	hits, err := h.searcher.Search(r.Context(),
		httputil.ParseQueryString(r, "class", ""),
		httputil.ParseQueryString(r, "q", ""),
		limit)
	if errors.Is(err, ErrInvalidQuery) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"hits":  hits,
		"count": len(hits),
	})
}

func writeJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, job.ErrJobNotFound) {
		httputil.WriteNotFound(w, err.Error())
		return
	}
	httputil.WriteInternalError(w, err)
}
