package webserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"demo-chatter/internal/analytics"
	"demo-chatter/internal/store"
)

// ReportStatus reports whether the scheduled usage report is active.
type ReportStatus interface {
	IsRunning() bool
}

// Options configures a WebServer. A RateLimit of zero disables throttling
// and a nil Reports is shown as reports disabled.
type Options struct {
	Addr      string
	RateLimit float64
	RateBurst int
	Reports   ReportStatus
	Logger    *log.Logger
}

// WebServer exposes the conversation store as a JSON API plus a WebSocket
// stream of state snapshots.
type WebServer struct {
	store     *store.Store
	reports   ReportStatus
	server    *http.Server
	addr      string
	startTime time.Time
	logger    *log.Logger

	appCtx    context.Context
	appCancel context.CancelFunc

	rateLimit    float64
	rateBurst    int
	rateLimiters *ttlcache.Cache[string, *rate.Limiter]

	wsUpgrader websocket.Upgrader
	mux        *http.ServeMux
}

type sendRequest struct {
	Content string `json:"content"`
}

type activeRequest struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New builds the server around st. It panics on a nil store.
func New(st *store.Store, opts Options) *WebServer {
	if st == nil {
		panic("webserver: nil store")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	limiters := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](time.Minute),
		ttlcache.WithDisableTouchOnHit[string, *rate.Limiter](),
	)
	go limiters.Start()

	ws := &WebServer{
		store:        st,
		reports:      opts.Reports,
		addr:         opts.Addr,
		startTime:    time.Now(),
		logger:       opts.Logger.With("component", "webserver"),
		appCtx:       ctx,
		appCancel:    cancel,
		rateLimit:    opts.RateLimit,
		rateBurst:    opts.RateBurst,
		rateLimiters: limiters,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	ws.mux = ws.routes()
	return ws
}

func (ws *WebServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/state", ws.handleState)
	mux.HandleFunc("/api/conversations", ws.handleConversations)
	mux.HandleFunc("/api/conversations/", ws.handleConversation)
	mux.HandleFunc("/api/active", ws.handleActive)
	mux.Handle("/api/messages", ws.rateLimitMiddleware(http.HandlerFunc(ws.handleMessages)))
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/events", ws.handleEvents)
	mux.HandleFunc("/", ws.handleRoot)
	return mux
}

// Handler exposes the routes without a listener, for tests and embedding.
func (ws *WebServer) Handler() http.Handler {
	return ws.mux
}

// Start listens on the configured address and blocks until Stop.
func (ws *WebServer) Start() error {
	ws.server = &http.Server{
		Addr:         ws.addr,
		Handler:      ws.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	ws.logger.Info("starting web server", "addr", ws.addr)
	if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes event streams and shuts the HTTP server down.
func (ws *WebServer) Stop() error {
	ws.appCancel()
	ws.rateLimiters.Stop()
	if ws.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ws.server.Shutdown(ctx)
}

func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "demo-chatter API: /api/state /api/conversations /api/active /api/messages /api/stats /api/events")
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	st := ws.store.State()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"uptime":        time.Since(ws.startTime).Round(time.Second).String(),
		"conversations": len(st.Conversations),
		"typing":        st.IsTyping,
		"reports":       ws.reports != nil && ws.reports.IsRunning(),
	})
}

// handleStats serves the usage stats of one UTC day, today unless ?date=YYYY-MM-DD is given.
func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	day := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}
	body, err := analytics.AnalyzeDay(ws.store.Conversations(), day).ToJSON()
	if err != nil {
		ws.logger.Error("failed to encode stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to encode stats"})
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func (ws *WebServer) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, ws.store.State())
}

func (ws *WebServer) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, ws.store.Conversations())
	case http.MethodPost:
		c, err := ws.store.StartNewConversation()
		if err != nil {
			ws.writeStoreError(w, err)
			return
		}
		ws.logger.Debug("conversation started", "id", c.ID)
		writeJSON(w, http.StatusCreated, c)
	default:
		methodNotAllowed(w)
	}
}

// handleConversation serves /api/conversations/{id}
func (ws *WebServer) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "conversation id is required in path /api/conversations/{id}"})
		return
	}
	switch r.Method {
	case http.MethodGet:
		c, ok := ws.store.Conversation(id)
		if !ok {
			ws.writeStoreError(w, store.ErrConversationNotFound)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodDelete:
		if err := ws.store.DeleteConversation(id); err != nil {
			ws.writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (ws *WebServer) handleActive(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		c, ok := ws.store.ActiveConversation()
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active conversation"})
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodPut, http.MethodPost:
		var req activeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request: " + err.Error()})
			return
		}
		if err := ws.store.SetActiveConversation(req.ID); err != nil {
			ws.writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (ws *WebServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, ws.store.Messages())
	case http.MethodPost:
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request: " + err.Error()})
			return
		}
		msg, err := ws.store.SendMessage(req.Content)
		if err != nil {
			ws.writeStoreError(w, err)
			return
		}
		if msg == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusAccepted, msg)
	default:
		methodNotAllowed(w)
	}
}

func (ws *WebServer) writeStoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrConversationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrReplyPending):
		status = http.StatusConflict
	case errors.Is(err, store.ErrClosed):
		status = http.StatusServiceUnavailable
	default:
		ws.logger.Error("store command failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
