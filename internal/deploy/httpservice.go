package deploy

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPService provides the status and trigger http endpoints.
type HTTPService struct {
	store      *Store
	dispatcher *Dispatcher
	authorizer Authorizer
	logger     *zap.Logger
}

func NewHTTPService(store *Store, dispatcher *Dispatcher, authorizer Authorizer) *HTTPService {
	return &HTTPService{
		store:      store,
		dispatcher: dispatcher,
		authorizer: authorizer,
		logger:     zap.L().Named(loggerName).Named("http_service"),
	}
}

func (h *HTTPService) RegisterHandlers(mux *http.ServeMux, statusEndpoint, triggerEndpoint string) {
	mux.HandleFunc(statusEndpoint, h.HandlerStatus)
	mux.HandleFunc(triggerEndpoint, h.HandlerTrigger)
}

type repoStatusResponse struct {
	Name             string     `json:"name"`
	CommitCount      int        `json:"commit_count"`
	CommitHash       string     `json:"commit_hash"`
	Broken           bool       `json:"broken"`
	Rollbacks        uint64     `json:"rollbacks"`
	LastAttemptAt    *time.Time `json:"last_attempt_at"`
	LastOutcome      string     `json:"last_outcome"`
	LastError        string     `json:"last_error"`
	LastFailedCommit string     `json:"last_failed_commit"`
}

type statusResponse struct {
	LastRun *time.Time           `json:"last_run"`
	Repos   []repoStatusResponse `json:"repos"`
}

func toStatusResponse(status *GlobalStatus) *statusResponse {
	result := statusResponse{
		Repos: make([]repoStatusResponse, 0, len(status.Repos)),
	}

	if status.LastRun != nil {
		t := status.LastRun.UTC()
		result.LastRun = &t
	}

	for _, r := range status.Repos {
		repo := repoStatusResponse{
			Name:             r.Name,
			CommitCount:      r.CommitCount,
			CommitHash:       r.CommitHash,
			Broken:           r.Broken,
			Rollbacks:        r.Rollbacks,
			LastOutcome:      string(r.LastOutcome),
			LastError:        r.LastError,
			LastFailedCommit: r.LastFailedCommit,
		}

		if !r.LastAttemptAt.IsZero() {
			t := r.LastAttemptAt.UTC()
			repo.LastAttemptAt = &t
		}

		result.Repos = append(result.Repos, repo)
	}

	return &result
}

func (h *HTTPService) writeJSON(respWr http.ResponseWriter, statusCode int, v any) {
	respWr.Header().Set("Content-Type", "application/json")
	respWr.WriteHeader(statusCode)

	if err := json.NewEncoder(respWr).Encode(v); err != nil {
		h.logger.Info("sending http response failed", zap.Error(err))
	}
}

func (h *HTTPService) HandlerStatus(respWr http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		respWr.Header().Set("Allow", "GET, HEAD")
		http.Error(respWr, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.store.Snapshot()
	h.writeJSON(respWr, http.StatusOK, toStatusResponse(&status))
}

func (h *HTTPService) HandlerTrigger(respWr http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		respWr.Header().Set("Allow", "POST")
		http.Error(respWr, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.authorizer.Authorized(req) {
		h.logger.Info("rejecting unauthorized trigger request", zap.String("remote_addr", req.RemoteAddr))
		h.writeJSON(respWr, http.StatusUnauthorized, map[string]string{
			"status":  "error",
			"message": "unauthorized",
		})
		return
	}

	cnt := h.dispatcher.TriggerAll()

	h.writeJSON(respWr, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"triggered": cnt,
	})
}
