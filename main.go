package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"solenne/pointbeat/lib/common"
	"solenne/pointbeat/lib/config"
	"solenne/pointbeat/lib/eventsub"
	"solenne/pointbeat/lib/leaderboard"
	"solenne/pointbeat/lib/logging"
	"solenne/pointbeat/lib/queue"
	"solenne/pointbeat/lib/request"
	"solenne/pointbeat/lib/spotify"
	"solenne/pointbeat/lib/store"

	"github.com/etherlabsio/healthcheck"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

var (
	version string
	commit  string
	date    string
)

const snapshotPersistInterval = 30 * time.Second

// server holds every long-lived component; handlers hang off it instead of
// package globals so tests can build one around fakes.
type server struct {
	cfg        *config.Config
	storage    store.Store
	gateway    *spotify.Gateway
	model      *queue.Model
	poller     *queue.Poller
	router     *request.Router
	board      *leaderboard.Sheet
	webhook    *eventsub.Handler
	authStates *oauthStateStore
	trustProxy bool
}

// oauthStateStore issues and consumes single-use state tokens for the
// Spotify authorization flow. Tokens expire after 15 minutes.
type oauthStateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
}

func newOAuthStateStore() *oauthStateStore {
	return &oauthStateStore{states: make(map[string]time.Time)}
}

func (s *oauthStateStore) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var token string
	for {
		token = generateStateToken()
		if _, exists := s.states[token]; !exists {
			s.states[token] = time.Now()
			break
		}
	}
	return token
}

func (s *oauthStateStore) Consume(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	created, ok := s.states[token]
	if ok {
		delete(s.states, token)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	return time.Since(created) <= 15*time.Minute
}

func generateStateToken() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// SelfRoot determines our external root URL (scheme://host[:port]) taking
// into account trusted proxy headers if enabled via TRUST_PROXY.
func (s *server) SelfRoot(r *http.Request) string {
	firstForwardVal := func(raw string) string {
		if raw == "" {
			return ""
		}
		parts := strings.Split(raw, ",")
		return strings.TrimSpace(parts[0])
	}

	scheme := strings.TrimSpace(r.URL.Scheme)
	host := strings.TrimSpace(r.Host)

	if s.trustProxy {
		if xfHost := firstForwardVal(r.Header.Get("X-Forwarded-Host")); xfHost != "" {
			host = xfHost
		}
		if scheme == "" {
			if xfProto := firstForwardVal(r.Header.Get("X-Forwarded-Proto")); xfProto != "" {
				scheme = strings.ToLower(xfProto)
			}
		}
	}

	if scheme == "" && r.TLS != nil {
		scheme = "https"
	}
	if scheme == "" {
		scheme = "http"
	}
	if host == "" {
		host = "localhost"
	}

	u := &url.URL{Scheme: scheme, Host: host}
	return u.String()
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}

// queueState is the dashboard payload: what is playing, what the provider
// last reported, and the pending queue in order.
func (s *server) queueState(w http.ResponseWriter, r *http.Request) {
	if !s.gateway.Authenticated() {
		writeJSONError(w, http.StatusOK, "spotify is not connected")
		return
	}

	// Nil pointers marshal as explicit nulls; clients rely on the keys
	// always being present.
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"currentlyPlaying": s.poller.LastSnapshot(),
		"currentSongInfo":  s.model.NowPlaying(),
		"shadowQueue":      s.model.Pending(),
	})
}

func (s *server) clearQueue(w http.ResponseWriter, r *http.Request) {
	dropped := s.model.Len()
	s.model.Clear()
	s.persistQueueSnapshot()
	slog.Info("queue cleared by operator", "dropped", dropped)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"dropped":     dropped,
		"shadowQueue": s.model.Pending(),
	})
}

func (s *server) getBlacklist(w http.ResponseWriter, r *http.Request) {
	entries := s.storage.Blacklist()
	if entries == nil {
		entries = []string{}
	}
	sort.Strings(entries)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "blacklist": entries})
}

// setBlacklist replaces the blacklist wholesale. The body is a bare JSON
// array of requester names; entries are normalized and deduplicated.
func (s *server) setBlacklist(w http.ResponseWriter, r *http.Request) {
	var raw []string
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "body must be a JSON array of names")
		return
	}

	seen := make(map[string]struct{}, len(raw))
	entries := make([]string, 0, len(raw))
	for _, name := range raw {
		normalized, _ := common.NormalizeRequester(name)
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		entries = append(entries, normalized)
	}

	if err := s.storage.WriteBlacklist(entries); err != nil {
		slog.Error("blacklist write failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "blacklist write failed")
		return
	}
	slog.Info("blacklist updated", "entries", len(entries))
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "blacklist": entries})
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	state := s.authStates.Create()
	http.Redirect(w, r, s.gateway.LoginURL(state), http.StatusFound)
}

func (s *server) callback(w http.ResponseWriter, r *http.Request) {
	args := r.URL.Query()
	if !s.authStates.Consume(strings.TrimSpace(args.Get("state"))) {
		slog.Warn("authorization state expired or invalid")
		http.Error(w, "authorization session expired, start again from /login", http.StatusForbidden)
		return
	}
	code := strings.TrimSpace(args.Get("code"))
	if code == "" {
		slog.Info("authorization cancelled")
		http.Redirect(w, r, s.SelfRoot(r)+"/", http.StatusFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.gateway.HandleCallback(ctx, code); err != nil {
		slog.Error("spotify authorization failed", "error", err)
		http.Error(w, "spotify authorization failed, try again", http.StatusBadGateway)
		return
	}
	http.Redirect(w, r, s.SelfRoot(r)+"/", http.StatusFound)
}

func (s *server) healthcheckHandler() http.Handler {
	return healthcheck.Handler(
		healthcheck.WithTimeout(5*time.Second),
		healthcheck.WithChecker("storage", healthcheck.CheckerFunc(func(ctx context.Context) error {
			return s.storage.Ping(ctx)
		})),
	)
}

// persistQueueSnapshot writes the pending queue through the store. Best
// effort: the playback provider remains the source of truth after a crash.
func (s *server) persistQueueSnapshot() {
	data, err := s.model.SnapshotJSON()
	if err != nil {
		slog.Warn("queue snapshot marshal failed", "error", err)
		return
	}
	if err := s.storage.WriteQueueSnapshot(data); err != nil {
		slog.Warn("queue snapshot persist failed", "error", err)
	}
}

func (s *server) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(snapshotPersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.persistQueueSnapshot()
			return
		case <-ticker.C:
			s.persistQueueSnapshot()
		}
	}
}

func allowedHostsHandler(allowedHostnames string) func(http.Handler) http.Handler {
	raw := strings.ToLower(allowedHostnames)
	parts := strings.Split(raw, ",")
	allowedHosts := make([]string, 0, len(parts))
	allowedBare := make([]string, 0, len(parts))
	for _, p := range parts {
		h := strings.TrimSpace(p)
		if h == "" {
			continue
		}
		h = strings.TrimPrefix(strings.TrimPrefix(h, "https://"), "http://")
		if idx := strings.Index(h, "/"); idx != -1 {
			h = h[:idx]
		}
		allowedHosts = append(allowedHosts, h)
		if _, _, err := net.SplitHostPort(h); err != nil {
			allowedBare = append(allowedBare, h)
		}
	}
	slog.Info("allowed hostnames", "hosts", allowedHosts)
	return func(h http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			if r.URL.EscapedPath() == "/healthcheck" {
				h.ServeHTTP(w, r)
				return
			}
			lcHost := strings.ToLower(strings.TrimSpace(r.Host))
			isAllowedHost := false
			for _, value := range allowedHosts {
				if lcHost == value {
					isAllowedHost = true
					break
				}
			}
			if !isAllowedHost && len(allowedBare) > 0 {
				reqHostOnly := lcHost
				if host, _, err := net.SplitHostPort(lcHost); err == nil {
					reqHostOnly = host
				}
				for _, base := range allowedBare {
					if reqHostOnly == base {
						isAllowedHost = true
						break
					}
				}
			}
			if !isAllowedHost {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

func (s *server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(recoveryMiddleware)
	router.Use(requestLoggerMiddleware())
	if s.trustProxy {
		router.Use(handlers.ProxyHeaders)
	}
	if s.cfg.AllowedHostnames != "" {
		router.Use(allowedHostsHandler(s.cfg.AllowedHostnames))
	}

	router.Handle("/webhook", s.webhook).Methods("GET", "POST")
	router.HandleFunc("/api/queue", s.queueState).Methods("GET")
	router.HandleFunc("/api/queue/clear", s.clearQueue).Methods("POST")
	router.HandleFunc("/api/blacklist", s.getBlacklist).Methods("GET")
	router.HandleFunc("/api/blacklist", s.setBlacklist).Methods("POST")
	router.HandleFunc("/login", s.login).Methods("GET")
	router.HandleFunc("/callback", s.callback).Methods("GET")
	router.Handle("/healthcheck", s.healthcheckHandler()).Methods("GET")
	router.PathPrefix("/").Handler(http.FileServer(http.Dir("static")))
	return router
}

func main() {
	logging.Init()
	cfg := config.Load()

	slog.Info("starting", "version", version, "commit", commit, "date", date)

	var durable store.Store
	if cfg.RedisURL != "" {
		durable = store.NewRedisStore(store.NewRedisClientWithUrl(cfg.RedisURL))
		slog.Info("using redis storage")
	} else {
		durable = store.NewDiskStore(cfg.DataDir)
		slog.Info("using disk storage", "dir", cfg.DataDir)
	}
	storage := store.NewFallbackStore(durable)

	loc, err := time.LoadLocation(cfg.ResetTimezone)
	if err != nil {
		slog.Warn("invalid reset timezone, using local", "timezone", cfg.ResetTimezone, "error", err)
		loc = time.Local
	}
	model := queue.NewModel(queue.ModelConfig{
		ResetHour: cfg.ResetHour,
		Location:  loc,
	})
	if err := model.RestoreJSON(storage.ReadQueueSnapshot()); err != nil {
		slog.Warn("queue snapshot restore failed", "error", err)
	} else if n := model.Len(); n > 0 {
		slog.Info("queue restored from snapshot", "pending", n)
	}

	gateway := spotify.NewGateway(cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.SpotifyRedirectURL, storage)
	board := leaderboard.NewSheet(cfg.LeaderboardURL)
	router := request.NewRouter(gateway, model, storage, board)

	poller := queue.NewPoller(queue.PollerConfig{
		Source:   gateway,
		Model:    model,
		Interval: cfg.PollInterval,
		OnPlay: func(req queue.SongRequest) {
			board.RecordPlay(req.TrackName, req.ArtistName, req.RequestedBy)
		},
	})

	webhook := eventsub.NewHandler(eventsub.HandlerConfig{
		Secret:      cfg.TwitchWebhookSecret,
		RewardTitle: cfg.RewardTitle,
		OnRedemption: func(ctx context.Context, red eventsub.Redemption) {
			router.HandleRedemption(ctx, red.RequestedBy, red.Input)
		},
	})

	srv := &server{
		cfg:        cfg,
		storage:    storage,
		gateway:    gateway,
		model:      model,
		poller:     poller,
		router:     router,
		board:      board,
		webhook:    webhook,
		authStates: newOAuthStateStore(),
		trustProxy: cfg.TrustProxy,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go poller.Start(ctx)
	go srv.snapshotLoop(ctx)

	if cfg.TwitchClientID != "" && cfg.TwitchBroadcasterID != "" && cfg.WebhookCallbackURL != "" {
		sub := eventsub.NewSubscriber(cfg.TwitchClientID, cfg.TwitchClientSecret, storage)
		go func() {
			subCtx, subCancel := context.WithTimeout(ctx, 30*time.Second)
			defer subCancel()
			if err := sub.EnsureRedemptionSubscription(subCtx, cfg.TwitchBroadcasterID, cfg.WebhookCallbackURL, cfg.TwitchWebhookSecret); err != nil {
				slog.Error("eventsub subscription bootstrap failed", "error", err)
			}
		}()
	} else {
		slog.Warn("eventsub subscription bootstrap skipped, twitch config incomplete")
	}

	httpSrv := &http.Server{Addr: cfg.Listen, Handler: srv.routes()}
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "listen", cfg.Listen)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server exited", "error", err)
	}

	// Flush the last queue snapshot before the process goes away.
	stop()
	srv.persistQueueSnapshot()
	model.StopResetTimer()
	slog.Info("shutdown complete")
}

// requestLoggerMiddleware logs method, path, status, and duration for each request.
func requestLoggerMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sr := &statusRecorder{ResponseWriter: w, status: 200}
			start := time.Now()
			next.ServeHTTP(sr, r)
			duration := time.Since(start)
			slog.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sr.status,
				"duration_ms", duration.Milliseconds(),
				"remote", r.RemoteAddr,
			)
		})
	}
}

// statusRecorder captures HTTP status codes.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// recoveryMiddleware logs panics and prevents server crashes by returning 500.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "error", rec, "stack", string(debug.Stack()))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
