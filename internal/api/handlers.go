package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/nadmax/harvq/internal/dashboard"
	"github.com/nadmax/harvq/internal/httputil"
	"github.com/nadmax/harvq/internal/keyword"
	"github.com/nadmax/harvq/internal/queue"
	"github.com/nadmax/harvq/internal/runner"
	"github.com/nadmax/harvq/internal/task"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type API struct {
	runner *runner.Runner
	queue  *queue.Queue
	mux    *http.ServeMux
	logger *zap.SugaredLogger
}

type CreateTaskRequest struct {
	Owner       string `json:"owner"`
	ChannelURL  string `json:"channel_url"`
	PostsLimit  int    `json:"posts_limit"`
	Keywords    string `json:"keywords"`
	KeywordMode string `json:"keyword_mode"`
}

type CreateTaskResponse struct {
	TaskID string `json:"task_id"`
}

func NewAPI(r *runner.Runner, q *queue.Queue, logger *zap.SugaredLogger) *API {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	api := &API{
		runner: r,
		queue:  q,
		mux:    http.NewServeMux(),
		logger: logger,
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/api/tasks", a.handleTasks)
	a.mux.HandleFunc("/api/tasks/", a.handleTaskByID)

	dash := dashboard.NewDashboard(a.queue)
	a.mux.HandleFunc("/api/dashboard/stats", dash.GetStats)
	a.mux.HandleFunc("/api/dashboard/history", dash.GetRecentTasks)
	a.mux.HandleFunc("/api/dashboard/history/stats", dash.GetHistoryStats)

	a.mux.Handle("/metrics", promhttp.Handler())
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createTask(w, r)
	case http.MethodGet:
		a.listTasks(w, r)
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteJSONError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	defer func() {
		if err := r.Body.Close(); err != nil {
			a.logger.Warnw("failed to close request body", "error", err)
		}
	}()

	var req CreateTaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	taskID, err := a.runner.Submit(r.Context(), runner.SubmitRequest{
		Owner:       req.Owner,
		ChannelRef:  req.ChannelURL,
		PostsLimit:  req.PostsLimit,
		Keywords:    keyword.ParseTerms(req.Keywords),
		KeywordMode: req.KeywordMode,
	})
	if errors.Is(err, runner.ErrInvalidRequest) {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		a.logger.Errorw("failed to submit task", "error", err)
		httputil.WriteJSONError(w, "Failed to submit task", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, CreateTaskResponse{TaskID: taskID})
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		httputil.WriteJSONError(w, "Owner is required", http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteJSONError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	tasks, err := a.runner.History(r.Context(), owner, limit)
	if err != nil {
		a.logger.Errorw("failed to load task history", "owner", owner, "error", err)
		httputil.WriteJSONError(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}

	httputil.WriteJSON(w, http.StatusOK, tasks)
}

func (a *API) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	taskID, sub, _ := strings.Cut(path, "/")
	if taskID == "" {
		httputil.WriteJSONError(w, "Task ID is required", http.StatusBadRequest)
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		a.getTask(w, r, taskID)
	case sub == "" && r.Method == http.MethodDelete:
		a.deleteTask(w, r, taskID)
	case sub == "result" && r.Method == http.MethodGet:
		a.getResult(w, r, taskID)
	case sub == "" || sub == "result":
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	default:
		httputil.WriteJSONError(w, "Not found", http.StatusNotFound)
	}
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	snapshot, err := a.runner.Poll(r.Context(), taskID)
	if errors.Is(err, runner.ErrTaskNotFound) {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Errorw("failed to poll task", "task_id", taskID, "error", err)
		httputil.WriteJSONError(w, "Failed to load task", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, snapshot)
}

func (a *API) getResult(w http.ResponseWriter, r *http.Request, taskID string) {
	result, err := a.runner.FetchResult(r.Context(), taskID)
	switch {
	case errors.Is(err, runner.ErrTaskNotFound):
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
	case errors.Is(err, runner.ErrNotCompleted):
		httputil.WriteJSONError(w, "Task is not completed", http.StatusConflict)
	case err != nil:
		a.logger.Errorw("failed to fetch result", "task_id", taskID, "error", err)
		httputil.WriteJSONError(w, "Failed to load result", http.StatusInternalServerError)
	default:
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}

func (a *API) deleteTask(w http.ResponseWriter, r *http.Request, taskID string) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		httputil.WriteJSONError(w, "Owner is required", http.StatusBadRequest)
		return
	}

	err := a.runner.Delete(r.Context(), taskID, owner)
	switch {
	case errors.Is(err, runner.ErrTaskNotFound):
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
	case errors.Is(err, runner.ErrTaskRunning):
		httputil.WriteJSONError(w, "Task is running", http.StatusConflict)
	case err != nil:
		a.logger.Errorw("failed to delete task", "task_id", taskID, "error", err)
		httputil.WriteJSONError(w, "Failed to delete task", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
