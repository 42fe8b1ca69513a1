package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/microcosm-cc/bluemonday"

	"firehouse/internal/app"
	"firehouse/internal/ecode"
	"firehouse/internal/logging"
	"firehouse/internal/models"
)

// Sessions hands out per-request sessions. *app.App implements it.
type Sessions interface {
	NewSession() *app.Session
	Resume(ctx context.Context, token string) (*app.Session, error)
}

type Handler struct {
	sessions Sessions
	origins  []string
	log      *logging.Logger

	// Titles are plain text, content may keep safe markup.
	titles  *bluemonday.Policy
	content *bluemonday.Policy
}

// New builds the API. origins lists the CORS origins allowed to call it;
// empty allows any.
func New(sessions Sessions, origins []string, log *logging.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		origins:  origins,
		log:      log,
		titles:   bluemonday.StrictPolicy(),
		content:  bluemonday.UGCPolicy(),
	}
}

// Routes returns the API wrapped in tracing, panic recovery and CORS.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(func(next http.Handler) http.Handler { return WithTrace(next, h.log) })
	r.Use(func(next http.Handler) http.Handler { return WithRecover(next, h.log) })
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", traceHeader},
		ExposedHeaders: []string{traceHeader},
		MaxAge:         300,
	}))
	r.NotFound(h.NotFound)

	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.With(h.RequireAuth).Post("/logout", h.Logout)

	r.Get("/profile/{uid}", h.Profile)
	r.With(h.RequireAuth).Patch("/profile", h.UpdateProfile)

	r.Route("/posts", func(r chi.Router) {
		r.Post("/", h.CreatePost)
		r.Get("/", h.ListPosts)
		r.Get("/{id}", h.PostByID)
		r.Patch("/{id}", h.UpdatePost)
		r.Delete("/{id}", h.DeletePost)
	})
	return r
}

type sessionKey struct{}

// session returns the caller's session: the one RequireAuth resolved, the
// one named by the bearer token, or a signed-out one.
func (h *Handler) session(r *http.Request) (*app.Session, error) {
	if s, ok := r.Context().Value(sessionKey{}).(*app.Session); ok {
		return s, nil
	}
	token := bearer(r)
	if token == "" {
		return h.sessions.NewSession(), nil
	}
	return h.sessions.Resume(r.Context(), token)
}

func bearer(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

// RequireAuth rejects requests without a live bearer token.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bearer(r) == "" {
			h.fail(w, r, ecode.New(ecode.LoginFirst, "User is not logged in"))
			return
		}
		s, err := h.session(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, s)))
	})
}

// -------- Users

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var draft *models.User
	if err := decode(r, &draft); err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := h.sessions.NewSession().Users.Register(r.Context(), draft)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, http.StatusCreated, id)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decode(r, &c); err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := h.sessions.NewSession().Users.Login(r.Context(), c.Email, c.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, http.StatusOK, id)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	s, _ := h.session(r)
	if err := s.Users.Logout(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.NewSession()
	u, err := s.Users.Profile(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if u == nil {
		h.fail(w, r, ecode.New(ecode.NotFound, "No such profile."))
		return
	}
	h.reply(w, r, http.StatusOK, u)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	s, _ := h.session(r)
	var partial *models.User
	if err := decode(r, &partial); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := s.Users.UpdateProfile(r.Context(), partial)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, http.StatusOK, u)
}

// -------- Posts

func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var draft *models.PostCreate
	if err := decode(r, &draft); err != nil {
		h.fail(w, r, err)
		return
	}
	if draft != nil {
		// An omitted uid means the caller.
		if draft.UID == "" {
			draft.UID = s.Users.CurrentUID(r.Context())
		}
		draft.Title = h.titles.Sanitize(draft.Title)
		draft.Content = h.content.Sanitize(draft.Content)
	}
	post, err := s.Posts.Create(r.Context(), draft)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, http.StatusCreated, post)
}

func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	q := models.PostQuery{Category: r.URL.Query().Get("category")}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			h.fail(w, r, ecode.Newf(ecode.InvalidArgument, "limit %q is not a number", v))
			return
		}
		q.Limit = limit
	}
	res, err := h.sessions.NewSession().Posts.Page(r.Context(), q, r.URL.Query().Get("cursor"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, http.StatusOK, res)
}

func (h *Handler) PostByID(w http.ResponseWriter, r *http.Request) {
	post, err := h.sessions.NewSession().Posts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if post == nil {
		h.fail(w, r, ecode.New(ecode.NotFound, "No such post."))
		return
	}
	h.reply(w, r, http.StatusOK, post)
}

func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var partial *models.PostUpdate
	if err := decode(r, &partial); err != nil {
		h.fail(w, r, err)
		return
	}
	if partial != nil {
		partial.Title = h.sanitize(h.titles, partial.Title)
		partial.Content = h.sanitize(h.content, partial.Content)
	}
	post, err := s.Posts.Update(r.Context(), chi.URLParam(r, "id"), partial)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, http.StatusOK, post)
}

func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	post, err := s.Posts.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, http.StatusOK, post)
}

func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.fail(w, r, ecode.Newf(ecode.NotFound, "No route for %s %s.", r.Method, r.URL.Path))
}

func (h *Handler) sanitize(p *bluemonday.Policy, v *string) *string {
	if v == nil {
		return nil
	}
	clean := p.Sanitize(*v)
	return &clean
}

// -------- JSON helpers

// decode reads the JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return ecode.Newf(ecode.InvalidArgument, "Request body is not valid JSON: %v", err)
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn(r.Context(), "failed to write response", "error", err)
	}
}

// fail replies with the {code, message} record. Errors without a code are
// logged and hidden behind a generic 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var e *ecode.Error
	if !errors.As(err, &e) {
		h.log.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		e = ecode.New("internal", "Internal server error")
	}
	h.reply(w, r, ecode.ToHTTPStatus(e.Code), e)
}
