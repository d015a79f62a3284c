package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agendacal/internal/agenda"
	"agendacal/internal/config"
	appLog "agendacal/internal/log"
	"agendacal/internal/model"
)

const (
	defaultLimit = 50
	maxLimit     = 500
	pageRows     = 200
)

//go:embed templates/agenda.html
var templateFS embed.FS

var agendaTmpl = template.Must(template.ParseFS(templateFS, "templates/agenda.html"))

// Server exposes an agenda Window over HTTP. Every handler touches the
// window through the owner loop, never directly.
type Server struct {
	cfg         *config.Config
	loop        *agenda.Loop
	win         *agenda.Window
	previewPath string
	mux         *http.ServeMux

	// Owned by the loop goroutine.
	shift  int
	resets int
}

// NewServer constructs a new Server. It registers a window listener, so it
// must be called before loop starts running or from the loop itself.
func NewServer(cfg *config.Config, loop *agenda.Loop, win *agenda.Window, previewPath string) *Server {
	s := &Server{
		cfg:         cfg,
		loop:        loop,
		win:         win,
		previewPath: previewPath,
		mux:         http.NewServeMux(),
	}
	win.AddListener(agenda.ListenerFunc(func(c agenda.Change) {
		s.shift += c.Shift
		if c.Reset {
			s.resets++
		}
	}))
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="agendacal", charset="UTF-8"`)
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

// Serve runs an HTTP server on cfg.Listen until ctx is cancelled, then
// shuts it down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/agenda", s.handleAgenda)
	s.mux.HandleFunc("POST /api/goto", s.handleGoTo)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/hide-declined", s.handleHideDeclined)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /agenda", s.handlePage)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	s.mux.Handle("GET /{$}", http.RedirectHandler("/agenda", http.StatusFound))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// rowDTO is the JSON shape of one agenda row.
type rowDTO struct {
	Position      int    `json:"position"`
	ID            int64  `json:"id"`
	Kind          string `json:"kind"`
	Date          string `json:"date"`
	Title         string `json:"title,omitempty"`
	Location      string `json:"location,omitempty"`
	Color         string `json:"color,omitempty"`
	AllDay        bool   `json:"all_day,omitempty"`
	Start         string `json:"start,omitempty"`
	End           string `json:"end,omitempty"`
	Status        string `json:"status,omitempty"`
	Past          bool   `json:"past,omitempty"`
	Today         bool   `json:"today,omitempty"`
	FirstUpcoming bool   `json:"first_upcoming,omitempty"`
}

// agendaResponse is the JSON response shape for /api/agenda.
type agendaResponse struct {
	Offset   int      `json:"offset"`
	RowCount int      `json:"row_count"`
	Rows     []rowDTO `json:"rows"`
}

// handleAgenda returns rows of the window.
//
// GET /api/agenda?offset=0&limit=50
//
// Rows are read one by one like a scrolling client would, so reading near
// an edge queues a fetch in that direction. Rows prepended while reading
// shift the remaining positions; offset in the response is where the first
// returned row sits after the read.
func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset := max(parseIntDefault(q.Get("offset"), 0), 0)
	limit := parseIntDefault(q.Get("limit"), defaultLimit)
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}

	var resp agendaResponse
	err := s.loop.Call(r.Context(), func() {
		resp.Offset, resp.Rows = s.readRows(offset, limit)
		resp.RowCount = s.win.RowCount()
	})
	if err != nil {
		writeLoopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// readRows runs on the loop. It stops early at the end of the window or
// when a reset replaces the rows underneath it.
func (s *Server) readRows(offset, limit int) (int, []rowDTO) {
	baseShift, baseResets := s.shift, s.resets
	rows := make([]rowDTO, 0, limit)
	for i := 0; i < limit; i++ {
		if s.resets != baseResets {
			break
		}
		pos := offset + i + s.shift - baseShift
		if pos >= s.win.RowCount() {
			break
		}
		v, err := s.win.RowAt(pos)
		if err != nil {
			appLog.Debug("agenda row unavailable", "pos", pos, "err", err.Error())
			break
		}
		rows = append(rows, toDTO(v))
	}
	return offset + s.shift - baseShift, rows
}

func toDTO(v agenda.RowView) rowDTO {
	d := rowDTO{
		Position:      v.Position,
		ID:            v.StableID,
		Kind:          v.Kind.String(),
		Date:          v.Day.String(),
		Past:          v.Past,
		Today:         v.Today,
		FirstUpcoming: v.FirstUpcoming,
	}
	if v.Kind != agenda.RowEvent {
		return d
	}
	d.Title = v.Record.Title
	d.Location = v.Record.Location
	d.Color = v.Record.CalendarColor
	d.AllDay = v.Record.AllDay
	if !d.AllDay {
		d.Start = clock(v.StartMinute)
		d.End = clock(v.EndMinute)
	}
	if v.Record.SelfAttendeeStatus != model.StatusNone {
		d.Status = v.Record.SelfAttendeeStatus.String()
	}
	return d
}

func clock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// gotoResponse reports where the requested day landed. ScrollTo is -1 while
// the reload is still in flight.
type gotoResponse struct {
	ScrollTo int  `json:"scroll_to"`
	RowCount int  `json:"row_count"`
	Pending  bool `json:"pending"`
}

// handleGoTo moves the window to a day.
//
// POST /api/goto?date=2025-03-10&q=standup&event=123&forced=1
//   - date:   required, YYYY-MM-DD
//   - q:      replaces the search filter when present (empty clears it)
//   - event:  instance or event ID to prefer on that day
//   - forced: reload even when the day is loaded
func (s *Server) handleGoTo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day, err := model.ParseDay(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	req := agenda.GoToRequest{Day: day, Forced: parseBool(q.Get("forced"))}
	if q.Has("q") {
		search := strings.TrimSpace(q.Get("q"))
		req.Search = &search
	}
	if ev := q.Get("event"); ev != "" {
		id, err := strconv.ParseInt(ev, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "event must be an integer")
			return
		}
		req.EventID = id
	}

	var resp gotoResponse
	err = s.loop.Call(r.Context(), func() {
		s.win.GoTo(req)
		resp.RowCount = s.win.RowCount()
		resp.ScrollTo = -1
		if s.win.Stats().Loading {
			resp.Pending = true
			return
		}
		resp.ScrollTo = s.win.FindNearest(day, req.EventID)
	})
	if err != nil {
		writeLoopError(w, err)
		return
	}
	appLog.Info("api goto", "date", day.String(), "event", req.EventID, "forced", req.Forced, "scroll_to", resp.ScrollTo)
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh reloads around the last viewed row.
//
// POST /api/refresh?forced=1
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	forced := parseBool(r.URL.Query().Get("forced"))
	var st agenda.Stats
	err := s.loop.Call(r.Context(), func() {
		s.win.Refresh(forced)
		st = s.win.Stats()
	})
	if err != nil {
		writeLoopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleHideDeclined toggles the declined filter.
//
// POST /api/hide-declined?on=1
func (s *Server) handleHideDeclined(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("on")
	on, err := strconv.ParseBool(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "on must be a boolean")
		return
	}
	var st agenda.Stats
	err = s.loop.Call(r.Context(), func() {
		s.win.SetHideDeclined(on)
		st = s.win.Stats()
	})
	if err != nil {
		writeLoopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var st agenda.Stats
	if err := s.loop.Call(r.Context(), func() { st = s.win.Stats() }); err != nil {
		writeLoopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// pageData feeds templates/agenda.html.
type pageData struct {
	Title    string
	Ready    bool
	Search   string
	Older    string
	Newer    string
	Rows     []rowDTO
	Stats    agenda.Stats
	Rendered string
}

// handlePage renders the loaded window as HTML. The root element carries
// data-ready="true" once there is something to show, which the capture
// step waits for.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: "Agenda"}
	err := s.loop.Call(r.Context(), func() {
		_, data.Rows = s.readRows(0, pageRows)
		data.Stats = s.win.Stats()
		data.Search = s.win.Search()
		if start, end, ok := s.win.Coverage(); ok {
			data.Older = start.String()
			data.Newer = end.String()
		}
		data.Rendered = time.Now().In(s.win.Location()).Format("2006-01-02 15:04")
	})
	if err != nil {
		writeLoopError(w, err)
		return
	}
	st := data.Stats
	data.Ready = !st.Loading && (len(data.Rows) > 0 || st.Unavailable || st.Queued == 0)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := agendaTmpl.Execute(w, data); err != nil {
		appLog.Error("failed to render agenda page", err)
	}
}

// handlePreview serves the last captured PNG from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.previewPath == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, s.previewPath)
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

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func writeLoopError(w http.ResponseWriter, err error) {
	if errors.Is(err, agenda.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, "agenda is shutting down")
		return
	}
	writeError(w, http.StatusGatewayTimeout, err.Error())
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
