package matching

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bkohler93/peermatch/internal/shared/archive"
	"github.com/bkohler93/peermatch/internal/shared/match"
	"github.com/bkohler93/peermatch/internal/shared/waiting"
	"github.com/bkohler93/peermatch/pkg/uuidstring"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// AdminAPI exposes health, counters, the waiting store and an HTTP way to
// submit requests onto the inbound stream. Archived sessions are served when
// a finder is configured.
type AdminAPI struct {
	stats     *Stats
	store     waiting.Store
	publisher RequestPublisher
	sessions  archive.Finder
	log       *slog.Logger
}

type AdminOption func(*AdminAPI)

func WithSessionFinder(f archive.Finder) AdminOption {
	return func(a *AdminAPI) {
		a.sessions = f
	}
}

func NewAdminAPI(stats *Stats, store waiting.Store, publisher RequestPublisher, log *slog.Logger, opts ...AdminOption) *AdminAPI {
	if log == nil {
		log = slog.Default()
	}
	a := &AdminAPI{stats: stats, store: store, publisher: publisher, log: log}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *AdminAPI) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.handleHealth).Methods("GET")
	r.HandleFunc("/stats", a.handleStats).Methods("GET")
	r.HandleFunc("/waiting/{key}", a.handleWaiting).Methods("GET")
	r.HandleFunc("/match-requests", a.handleSubmit).Methods("POST")
	if a.sessions != nil {
		r.HandleFunc("/sessions/{collabId}", a.handleSession).Methods("GET")
		r.HandleFunc("/users/{userId}/sessions", a.handleUserSessions).Methods("GET")
	}

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (a *AdminAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *AdminAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.stats.Snapshot())
}

func (a *AdminAPI) handleWaiting(w http.ResponseWriter, r *http.Request) {
	k, err := match.ParseMatchKey(mux.Vars(r)["key"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, found, err := a.store.Peek(r.Context(), k)
	if err != nil {
		a.log.Error("failed to read waiting store", "match_key", k.String(), "err", err)
		http.Error(w, "failed to read waiting store", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "no request waiting", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *AdminAPI) handleSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuidstring.Parse(mux.Vars(r)["collabId"])
	if err != nil {
		http.Error(w, "invalid collaboration id", http.StatusBadRequest)
		return
	}
	s, err := a.sessions.Session(r.Context(), id.String())
	if errors.Is(err, archive.ErrNoSession) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		a.log.Error("failed to read archived session", "collab_id", id.String(), "err", err)
		http.Error(w, "failed to read session archive", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *AdminAPI) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	sessions, err := a.sessions.SessionsForUser(r.Context(), userID)
	if err != nil {
		a.log.Error("failed to list archived sessions", "user", userID, "err", err)
		http.Error(w, "failed to read session archive", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

type submitResponse struct {
	RequestID uuidstring.ID `json:"requestId"`
	Key       string        `json:"key"`
}

func (a *AdminAPI) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req match.PendingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req, err := PrepareRequest(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.publisher.PublishRequest(r.Context(), req.Criteria, req); err != nil {
		a.log.Error("failed to publish match request", "err", err)
		http.Error(w, "failed to submit match request", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{RequestID: req.RequestID, Key: req.Criteria.String()})
}

var (
	ErrNoCriteria       = errors.New("request has no criteria")
	ErrInvalidRequestID = errors.New("request id is not a uuid")
)

// PrepareRequest fills in the id and submission time of a new request and
// validates it. A caller supplied id is kept in canonical form.
func PrepareRequest(req match.PendingRequest) (match.PendingRequest, error) {
	if req.Criteria.IsZero() {
		return req, ErrNoCriteria
	}
	if req.RequestID.IsZero() {
		req.RequestID = uuidstring.NewID()
	} else {
		id, err := uuidstring.Parse(req.RequestID.String())
		if err != nil {
			return req, fmt.Errorf("%w: %v", ErrInvalidRequestID, err)
		}
		req.RequestID = id
	}
	if req.SubmittedAt == 0 {
		req.SubmittedAt = time.Now().Unix()
	}
	req.Attempts = 0
	return req, req.Validate()
}
