package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/example/teetime-scheduler/internal/auth"
	"github.com/example/teetime-scheduler/internal/bookings"
	"github.com/example/teetime-scheduler/internal/clock"
)

//go:embed templates/*.html
var fs embed.FS

type Server struct {
	Auth     *auth.Store
	Bookings *bookings.Service
	// Health reports whether backing services are reachable. Optional.
	Health func(ctx context.Context) error
	Log    logrus.FieldLogger
}

type tmplData struct {
	Title string
	User  int64

	Flash    string
	Bookings []bookings.BookingRequest
	Booking  bookings.BookingRequest
	History  []bookings.AttemptRecord
	Form     bookings.Submission
	Earliest string
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Get("/login", s.handleLoginForm)
	r.Post("/login", s.handleLogin)
	r.Get("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.RequireAuth)
		r.Get("/", s.handleHome)
		r.Get("/bookings/new", s.handleBookingNew)
		r.Post("/bookings", s.handleBookingCreate)
		r.Get("/bookings/{id}", s.handleBookingShow)
		r.Post("/bookings/{id}/cancel", s.handleBookingCancel)
	})

	r.Route("/api/bookings", func(r chi.Router) {
		r.Use(s.Auth.RequireAPIAuth)
		r.Post("/", s.apiCreate)
		r.Get("/", s.apiList)
		r.Get("/{id}", s.apiGet)
		r.Delete("/{id}", s.apiCancel)
		r.Get("/{id}/history", s.apiHistory)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Log.WithFields(logrus.Fields{
			"component":   "web",
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"req_id":      middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Health != nil {
		if err := s.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	list, err := s.Bookings.Store.ListAll(r.Context())
	if err != nil {
		s.Log.WithError(err).Error("list bookings")
		http.Error(w, "failed to load bookings", statusFor(err))
		return
	}
	s.render(w, "templates/bookings.html", tmplData{
		Title:    "Bookings",
		User:     uid,
		Flash:    r.URL.Query().Get("flash"),
		Bookings: list,
	})
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, "templates/login.html", tmplData{Title: "Login"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	id, err := s.Auth.Authenticate(r.Context(), username, password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			s.Log.WithError(err).Error("authenticate")
		}
		s.render(w, "templates/login.html", tmplData{Title: "Login", Flash: "Invalid username/password"})
		return
	}
	if err := s.Auth.SetSession(w, r, id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) newBookingData(r *http.Request, form bookings.Submission, flash string) tmplData {
	uid, _ := auth.UserIDFromContext(r.Context())
	earliest := s.Bookings.Resolver.EarliestDate(s.Bookings.Clock.Now())
	if form.Date == "" {
		form.Date = earliest.Format(clock.DateLayout)
	}
	if form.Time == "" {
		form.Time = "08:00"
	}
	return tmplData{
		Title:    "New Booking",
		User:     uid,
		Flash:    flash,
		Form:     form,
		Earliest: earliest.Format(clock.DateLayout),
	}
}

func (s *Server) handleBookingNew(w http.ResponseWriter, r *http.Request) {
	s.render(w, "templates/new_booking.html", s.newBookingData(r, bookings.Submission{}, ""))
}

func (s *Server) handleBookingCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sub := bookings.Submission{
		Name: r.FormValue("user_name"),
		Date: r.FormValue("requested_date"),
		Time: r.FormValue("requested_time"),
	}
	created, err := s.Bookings.Submit(r.Context(), sub)
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			s.Log.WithError(err).Error("create booking")
			err = errors.New("failed to create booking")
		}
		s.renderStatus(w, statusFor(err), "templates/new_booking.html", s.newBookingData(r, sub, err.Error()))
		return
	}
	http.Redirect(w, r, "/bookings/"+strconv.FormatInt(created.ID, 10), http.StatusFound)
}

func (s *Server) handleBookingShow(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	req, err := s.Bookings.Store.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	hist, err := s.Bookings.Store.History(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	uid, _ := auth.UserIDFromContext(r.Context())
	s.render(w, "templates/booking.html", tmplData{
		Title:   "Booking #" + strconv.FormatInt(id, 10),
		User:    uid,
		Flash:   r.URL.Query().Get("flash"),
		Booking: req,
		History: hist,
	})
}

func (s *Server) handleBookingCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	flash := "Booking cancelled"
	if err := s.Bookings.Store.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, bookings.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		flash = "Only pending bookings can be cancelled"
	}
	http.Redirect(w, r, "/bookings/"+strconv.FormatInt(id, 10)+"?flash="+url.QueryEscape(flash), http.StatusFound)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) render(w http.ResponseWriter, name string, data tmplData) {
	s.renderStatus(w, http.StatusOK, name, data)
}

func (s *Server) renderStatus(w http.ResponseWriter, status int, name string, data tmplData) {
	loc := s.Bookings.Resolver.Location
	t, err := template.New("").Funcs(template.FuncMap{
		"local": func(t time.Time) string { return t.In(loc).Format("2006-01-02 15:04:05 MST") },
		"date":  func(t time.Time) string { return t.Format(clock.DateLayout) },
		"deref": func(p *string) string {
			if p == nil {
				return ""
			}
			return *p
		},
		"localp": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.In(loc).Format("2006-01-02 15:04:05 MST")
		},
		"cancellable": func(st bookings.Status) bool { return st == bookings.StatusPending },
	}).ParseFS(fs, "templates/base.html", name)
	if err != nil {
		http.Error(w, "template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", data); err != nil {
		http.Error(w, "render error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func Start(ctx context.Context, addr string, h http.Handler, log logrus.FieldLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
