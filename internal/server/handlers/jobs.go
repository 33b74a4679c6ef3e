package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/gohat/internal/errors"
	"github.com/3leaps/gohat/pkg/ledger"
)

const (
	defaultLogTail = 100
	maxLogTail     = 10000
	maxNotesBytes  = 1 << 20
)

// JobsHandler serves the ledger over HTTP.
type JobsHandler struct {
	ledger *ledger.Ledger
	log    *zap.Logger
}

func NewJobsHandler(l *ledger.Ledger, log *zap.Logger) *JobsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &JobsHandler{ledger: l, log: log}
}

// Routes returns the /api router. mutating wraps the routes that change
// ledger state; nil leaves them unwrapped.
func (h *JobsHandler) Routes(mutating func(http.Handler) http.Handler) http.Handler {
	if mutating == nil {
		mutating = func(next http.Handler) http.Handler { return next }
	}

	r := chi.NewRouter()
	r.NotFound(NotFoundHandler)
	r.MethodNotAllowed(MethodNotAllowedHandler)

	r.Get("/namespaces", h.ListNamespaces)
	r.Get("/namespaces/{ns}/jobs", h.ListJobs)
	r.Get("/namespaces/{ns}/metrics", h.NamespaceMetrics)

	r.Route("/jobs/{ns}/{id}", func(r chi.Router) {
		r.Get("/", h.GetJob)
		r.Get("/files", h.Files)
		r.Get("/images", h.Images)
		r.Get("/logs", h.Logs)

		r.Group(func(r chi.Router) {
			r.Use(mutating)
			r.Delete("/", h.Delete)
			r.Post("/abort", h.Abort)
			r.Put("/notes", h.UpdateNotes)
			r.Post("/hide", h.Hide)
			r.Post("/unhide", h.Unhide)
		})
	})
	return r
}

// LedgerHealthChecker reports unhealthy when the experiments root is not a
// readable directory.
func LedgerHealthChecker(root string) HealthChecker {
	return HealthCheckerFunc(func(ctx context.Context) error {
		info, err := os.Stat(root)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", root)
		}
		return nil
	})
}

type jobListResponse struct {
	Namespace string              `json:"namespace"`
	Jobs      []ledger.JobSummary `json:"jobs"`
}

type namespacesResponse struct {
	Namespaces []ledger.Namespace `json:"namespaces"`
}

type filesResponse struct {
	Files []ledger.FileEntry `json:"files"`
}

type imagesResponse struct {
	Groups []ledger.ImageGroup `json:"groups"`
}

type logsResponse struct {
	Lines []string `json:"lines"`
}

type actionResponse struct {
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
	Action    string `json:"action"`
}

type notesRequest struct {
	Notes *string `json:"notes"`
}

func (h *JobsHandler) ListNamespaces(w http.ResponseWriter, r *http.Request) {
	nss, err := h.ledger.Scanner.Namespaces()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if nss == nil {
		nss = []ledger.Namespace{}
	}
	writeJSON(w, http.StatusOK, namespacesResponse{Namespaces: nss})
}

func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "ns")
	hidden, err := queryBool(r, "hidden")
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	jobs, err := h.ledger.Scanner.ListJobs(ns, ledger.ListOptions{IncludeHidden: hidden})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []ledger.JobSummary{}
	}
	writeJSON(w, http.StatusOK, jobListResponse{Namespace: ns, Jobs: jobs})
}

func (h *JobsHandler) NamespaceMetrics(w http.ResponseWriter, r *http.Request) {
	table, err := h.ledger.Scanner.NamespaceMetrics(chi.URLParam(r, "ns"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.ledger.Reader.Read(chi.URLParam(r, "ns"), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobsHandler) Files(w http.ResponseWriter, r *http.Request) {
	files, err := h.ledger.Reader.Files(chi.URLParam(r, "ns"), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, filesResponse{Files: files})
}

func (h *JobsHandler) Images(w http.ResponseWriter, r *http.Request) {
	groups, err := h.ledger.Reader.ImageGroups(chi.URLParam(r, "ns"), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, imagesResponse{Groups: groups})
}

func (h *JobsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogTail
	if raw := r.URL.Query().Get("tail"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxLogTail {
			respondWithError(w, r, apperrors.BadRequest("tail must be between 1 and "+strconv.Itoa(maxLogTail), err))
			return
		}
		n = v
	}
	lines, err := h.ledger.Reader.Tail(chi.URLParam(r, "ns"), chi.URLParam(r, "id"), n)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, logsResponse{Lines: lines})
}

func (h *JobsHandler) Abort(w http.ResponseWriter, r *http.Request) {
	ns, id := chi.URLParam(r, "ns"), chi.URLParam(r, "id")
	if err := h.ledger.Controller.Abort(ns, id); err != nil {
		respondWithError(w, r, err)
		return
	}
	h.log.Info("Abort requested", zap.String("namespace", ns), zap.String("job_id", id))
	writeJSON(w, http.StatusOK, actionResponse{Namespace: ns, ID: id, Action: "abort"})
}

func (h *JobsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ns, id := chi.URLParam(r, "ns"), chi.URLParam(r, "id")
	if err := h.ledger.Controller.Delete(ns, id); err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Namespace: ns, ID: id, Action: "delete"})
}

func (h *JobsHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	ns, id := chi.URLParam(r, "ns"), chi.URLParam(r, "id")

	var req notesRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxNotesBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondWithError(w, r, apperrors.BadRequest("invalid JSON body", err))
		return
	}
	if req.Notes == nil {
		respondWithError(w, r, apperrors.BadRequest("notes is required", nil))
		return
	}

	if err := h.ledger.Controller.UpdateNotes(ns, id, *req.Notes); err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Namespace: ns, ID: id, Action: "notes"})
}

func (h *JobsHandler) Hide(w http.ResponseWriter, r *http.Request) {
	h.setHidden(w, r, true)
}

func (h *JobsHandler) Unhide(w http.ResponseWriter, r *http.Request) {
	h.setHidden(w, r, false)
}

func (h *JobsHandler) setHidden(w http.ResponseWriter, r *http.Request, hidden bool) {
	ns, id := chi.URLParam(r, "ns"), chi.URLParam(r, "id")
	if err := h.ledger.Controller.SetHidden(ns, id, hidden); err != nil {
		respondWithError(w, r, err)
		return
	}
	action := "unhide"
	if hidden {
		action = "hide"
	}
	writeJSON(w, http.StatusOK, actionResponse{Namespace: ns, ID: id, Action: action})
}

func queryBool(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.BadRequest("invalid "+key+" parameter", err)
	}
	return v, nil
}
