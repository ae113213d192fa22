package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"portalcal/internal/calendar"
	"portalcal/internal/config"
	appLog "portalcal/internal/log"
	"portalcal/internal/model"
	"portalcal/internal/refresh"
	"portalcal/internal/store"
)

const entriesCacheTTL = 30 * time.Second

// Snapshot is the stored data the server renders.
type Snapshot interface {
	Entries(ctx context.Context) ([]model.ScheduleEntry, error)
	// EntriesBetween returns entries whose day lies in [from, to].
	EntriesBetween(ctx context.Context, from, to time.Time) ([]model.ScheduleEntry, error)
	Attendance(ctx context.Context) ([]model.AttendanceRecord, error)
	PortalAttendanceRate(ctx context.Context) (float64, bool, error)
	LastRefresh(ctx context.Context) (store.Refresh, bool, error)
}

// Refresher triggers an on-demand refresh.
type Refresher interface {
	Run(ctx context.Context) (store.Refresh, error)
}

// Options configures a Server.
type Options struct {
	Location *time.Location
	// Palette colors courses; nil means calendar.Palette.
	Palette []calendar.Color
	// BasicAuth, if set with both fields non-empty, protects every route
	// except /health.
	BasicAuth *config.BasicAuthConfig
	// PreviewPath is the PNG served at /preview.png.
	PreviewPath  string
	PerPage      int
	CalendarName string
	// Refresher enables POST /api/refresh when set.
	Refresher Refresher
	Now       func() time.Time
}

// Server serves the calendar API, the iCalendar export and the HTML
// month page.
type Server struct {
	snap   Snapshot
	opts   Options
	router chi.Router

	// In-memory cache of stored entries so page views do not hit SQLite
	// on every request.
	entriesMu    sync.RWMutex
	entriesCache *entriesCache
}

// entriesCache holds stored entries and when they were read.
type entriesCache struct {
	entries   []model.ScheduleEntry
	updatedAt time.Time
}

// NewServer constructs a Server over snap.
func NewServer(snap Snapshot, opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if len(opts.Palette) == 0 {
		opts.Palette = calendar.Palette
	}
	if opts.PerPage <= 0 {
		opts.PerPage = 10
	}
	if opts.CalendarName == "" {
		opts.CalendarName = "Class calendar"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{snap: snap, opts: opts}
	s.router = s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Invalidate drops the cached entries; call it after a refresh.
func (s *Server) Invalidate() {
	s.entriesMu.Lock()
	s.entriesCache = nil
	s.entriesMu.Unlock()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled")
			r.Use(s.basicAuthMiddleware)
		}

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/calendar", http.StatusFound)
		})
		r.Get("/calendar", s.handleCalendarPage)
		r.Get("/calendar.ics", s.handleICS)
		r.Get("/preview.png", s.handlePreview)

		r.Route("/api", func(r chi.Router) {
			r.Get("/calendar", s.handleMonth)
			r.Get("/day/{date}", s.handleDay)
			r.Get("/week", s.handleWeek)
			r.Get("/attendance", s.handleAttendance)
			r.Get("/status", s.handleStatus)
			if s.opts.Refresher != nil {
				r.Post("/refresh", s.handleRefresh)
			}
		})
	})
	return r
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	ba := s.opts.BasicAuth
	return ba != nil && ba.Username != "" && ba.Password != ""
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.opts.BasicAuth.Username
	password := s.opts.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="portalcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last captured PNG of the calendar page.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.opts.PreviewPath == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, s.opts.PreviewPath)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	rec, err := s.opts.Refresher.Run(r.Context())
	if errors.Is(err, refresh.ErrBusy) {
		writeError(w, http.StatusConflict, "refresh already running")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.Invalidate()
	writeJSON(w, http.StatusOK, toRefreshDTO(rec))
}

// entries returns stored entries, cached for entriesCacheTTL.
func (s *Server) entries(ctx context.Context) ([]model.ScheduleEntry, error) {
	now := time.Now()

	s.entriesMu.RLock()
	ec := s.entriesCache
	s.entriesMu.RUnlock()
	if ec != nil && now.Sub(ec.updatedAt) < entriesCacheTTL {
		return ec.entries, nil
	}

	entries, err := s.snap.Entries(ctx)
	if err != nil {
		return nil, err
	}

	s.entriesMu.Lock()
	s.entriesCache = &entriesCache{entries: entries, updatedAt: now}
	s.entriesMu.Unlock()
	return entries, nil
}

func (s *Server) navigator() *calendar.Navigator {
	return calendar.NewNavigator(
		calendar.WithClock(s.opts.Now),
		calendar.WithLocation(s.opts.Location),
	)
}

func (s *Server) colorFor(course string) calendar.Color {
	return calendar.ColorFrom(s.opts.Palette, course)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
