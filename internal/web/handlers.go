package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kuitang/flowcheck/internal/auth"
	"github.com/kuitang/flowcheck/internal/logutil"
	"github.com/kuitang/flowcheck/internal/obs"
	"github.com/kuitang/flowcheck/internal/ratelimit"
	"github.com/kuitang/flowcheck/internal/urlutil"
)

// Demo account created by the seed endpoint.
const (
	DemoEmail    = "demo@bixnemo.com"
	DemoPassword = "password123"
	DemoName     = "Demo User"
)

const (
	signInPath    = "/auth/signin"
	dashboardPath = "/dashboard"

	invalidCredentialsMessage = "Invalid email or password"
)

// RedirectMode selects how an unauthenticated dashboard visit reaches sign-in.
type RedirectMode string

const (
	// RedirectServer answers with an HTTP redirect.
	RedirectServer RedirectMode = "server"
	// RedirectClient renders a "Loading..." page whose script navigates to
	// sign-in after ClientRedirectDelay.
	RedirectClient RedirectMode = "client"
)

// Options configure the demo app.
type Options struct {
	BaseURL             string // fallback origin when the request carries none
	RedirectMode        RedirectMode
	ClientRedirectDelay time.Duration
	// DisableSeed turns off /api/seed-demo.
	DisableSeed bool
}

// PageData is shared by every page.
type PageData struct {
	Title string
	User  *auth.User
	Error string
}

// SignInPageData contains data for the sign-in page.
type SignInPageData struct {
	PageData
	Email       string
	CallbackURL string
}

// LoadingPageData contains data for the client-side redirect page.
type LoadingPageData struct {
	PageData
	RedirectTo string
	DelayMS    int64
}

// WebHandler provides the demo app's HTTP handlers.
type WebHandler struct {
	renderer *Renderer
	users    *auth.UserService
	sessions *auth.SessionService
	authMW   *auth.Middleware
	limiter  *ratelimit.RateLimiter
	opts     Options
}

// NewWebHandler creates a new web handler. limiter may be nil.
func NewWebHandler(renderer *Renderer, users *auth.UserService, sessions *auth.SessionService, limiter *ratelimit.RateLimiter, opts Options) *WebHandler {
	if opts.RedirectMode == "" {
		opts.RedirectMode = RedirectServer
	}
	return &WebHandler{
		renderer: renderer,
		users:    users,
		sessions: sessions,
		authMW:   auth.NewMiddleware(sessions, users),
		limiter:  limiter,
		opts:     opts,
	}
}

// RegisterRoutes registers all routes on the given mux.
func (h *WebHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, dashboardPath, http.StatusFound)
	})
	mux.Handle("GET "+dashboardPath, h.authMW.RequireAuth(http.HandlerFunc(h.HandleDashboard), http.HandlerFunc(h.HandleUnauthenticated)))

	mux.Handle("GET "+signInPath, h.authMW.OptionalAuth(http.HandlerFunc(h.HandleSignInPage)))
	var signIn http.Handler = http.HandlerFunc(h.HandleSignIn)
	if h.limiter != nil {
		signIn = ratelimit.RateLimitMiddleware(h.limiter, func(r *http.Request) string {
			return strings.ToLower(strings.TrimSpace(r.FormValue("email")))
		})(signIn)
	}
	mux.Handle("POST "+signInPath, signIn)
	mux.HandleFunc("POST /auth/signout", h.HandleSignOut)
	mux.HandleFunc("GET /auth/signout", h.HandleSignOut)

	if !h.opts.DisableSeed {
		mux.HandleFunc("GET /api/seed-demo", h.HandleSeedDemo)
		mux.HandleFunc("POST /api/seed-demo", h.HandleSeedDemo)
	}
	mux.HandleFunc("GET /health", h.HandleHealth)
}

// Handler returns the routed app wrapped in request-ID and access-log middleware.
func (h *WebHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return obs.RequestContextMiddleware(obs.AccessLogMiddleware("web", mux))
}

// HandleDashboard handles GET /dashboard for signed-in users.
func (h *WebHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	data := PageData{Title: "Dashboard", User: auth.GetUser(r.Context())}
	if err := h.renderer.Render(w, http.StatusOK, "dashboard.html", data); err != nil {
		obs.From(r.Context()).Error("render_failed", "pkg", "web", "error", err)
	}
}

// HandleUnauthenticated sends a signed-out dashboard visit toward sign-in.
func (h *WebHandler) HandleUnauthenticated(w http.ResponseWriter, r *http.Request) {
	target := signInPath + "?callbackUrl=" + url.QueryEscape(r.URL.RequestURI())

	if h.opts.RedirectMode == RedirectClient {
		data := LoadingPageData{
			PageData:   PageData{Title: "Loading"},
			RedirectTo: target,
			DelayMS:    h.opts.ClientRedirectDelay.Milliseconds(),
		}
		if err := h.renderer.Render(w, http.StatusOK, "loading.html", data); err != nil {
			obs.From(r.Context()).Error("render_failed", "pkg", "web", "error", err)
		}
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleSignInPage handles GET /auth/signin. Signed-in visitors go straight
// to the callback.
func (h *WebHandler) HandleSignInPage(w http.ResponseWriter, r *http.Request) {
	callback := safeCallback(r.URL.Query().Get("callbackUrl"))
	if auth.IsAuthenticated(r.Context()) {
		http.Redirect(w, r, callback, http.StatusFound)
		return
	}
	data := SignInPageData{
		PageData:    PageData{Title: "Sign In"},
		CallbackURL: callback,
	}
	if err := h.renderer.Render(w, http.StatusOK, "signin.html", data); err != nil {
		obs.From(r.Context()).Error("render_failed", "pkg", "web", "error", err)
	}
}

// HandleSignIn handles POST /auth/signin.
func (h *WebHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	log := obs.From(r.Context()).With("pkg", "web")
	if err := r.ParseForm(); err != nil {
		h.renderer.RenderError(w, http.StatusBadRequest, "Invalid form")
		return
	}
	log.Debug("signin_attempt", "form", logutil.FormatFormForLog(r.PostForm))

	emailAddr := strings.TrimSpace(r.PostForm.Get("email"))
	password := r.PostForm.Get("password")
	callback := safeCallback(r.PostForm.Get("callbackUrl"))

	user, err := h.users.VerifyLogin(r.Context(), emailAddr, password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			log.Error("signin_failed", "error", err)
		}
		data := SignInPageData{
			PageData:    PageData{Title: "Sign In", Error: invalidCredentialsMessage},
			Email:       emailAddr,
			CallbackURL: callback,
		}
		if err := h.renderer.Render(w, http.StatusUnauthorized, "signin.html", data); err != nil {
			log.Error("render_failed", "error", err)
		}
		return
	}

	sessionID, err := h.sessions.Create(r.Context(), user.ID)
	if err != nil {
		log.Error("session_create_failed", "error", err)
		h.renderer.RenderError(w, http.StatusInternalServerError, "Could not start session")
		return
	}
	auth.SetCookie(w, sessionID, h.secureCookies(r))
	log.Info("signin_succeeded", "user_id", user.ID)
	http.Redirect(w, r, callback, http.StatusSeeOther)
}

// HandleSignOut ends the session and returns to sign-in.
func (h *WebHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	if sessionID, err := auth.GetFromRequest(r); err == nil {
		_ = h.sessions.Delete(r.Context(), sessionID)
	}
	auth.ClearCookie(w, h.secureCookies(r))
	http.Redirect(w, r, signInPath, http.StatusSeeOther)
}

type seedResponse struct {
	OK      bool   `json:"ok"`
	Created bool   `json:"created"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Error   string `json:"error,omitempty"`
}

// HandleSeedDemo creates or resets the demo account. Resetting signs the
// account out everywhere.
func (h *WebHandler) HandleSeedDemo(w http.ResponseWriter, r *http.Request) {
	log := obs.From(r.Context()).With("pkg", "web")
	user, created, err := h.users.Upsert(r.Context(), DemoEmail, DemoName, DemoPassword)
	if err != nil {
		log.Error("seed_failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, seedResponse{Error: err.Error()})
		return
	}
	if !created {
		if err := h.sessions.DeleteByUserID(r.Context(), user.ID); err != nil {
			log.Warn("seed_session_reset_failed", "user_id", user.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, seedResponse{OK: true, Created: created, Email: user.Email, Name: user.Name})
}

// HandleHealth reports liveness.
func (h *WebHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebHandler) secureCookies(r *http.Request) bool {
	return strings.HasPrefix(urlutil.OriginFromRequest(r, h.opts.BaseURL), "https://")
}

// safeCallback keeps redirects on this origin.
func safeCallback(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return dashboardPath
	}
	return raw
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
