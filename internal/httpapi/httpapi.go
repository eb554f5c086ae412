// Package httpapi exposes the engine over HTTP for the authd binary.
// Browser clients carry the session token in a cookie and must pair
// state-changing requests with the CSRF companion header; API clients use
// a bearer token or an API key and skip CSRF.
package httpapi

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/AfriConnectExchange/authcore"
	"github.com/AfriConnectExchange/authcore/logging"
)

const sessionCookie = "acx_session"

type API struct {
	engine *authcore.Engine
	log    logging.Logger
}

func New(engine *authcore.Engine, log logging.Logger) *API {
	return &API{engine: engine, log: log}
}

// Router assembles the auth endpoint tree.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(clientContext)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", a.signUp)
		r.Post("/signin", a.signIn)
		r.Post("/signout", a.signOut)
		r.Get("/session", a.currentSession)
		r.Post("/verify-email", a.verifyEmail)
		r.Post("/verify-otp", a.verifyOTP)
		r.Post("/resend", a.resend)
		r.Post("/password-reset/request", a.requestReset)
		r.Post("/password-reset/confirm", a.confirmReset)
		r.Post("/apikeys", a.issueAPIKey)
		r.Post("/apikeys/introspect", a.introspectAPIKey)
		r.Delete("/apikeys/{keyID}", a.revokeAPIKey)
	})

	return r
}

// clientContext records the caller's address and user agent for device
// fingerprinting and audit.
func clientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.Header.Get("X-Forwarded-For")
		if ip != "" {
			// First hop only.
			if i := strings.IndexByte(ip, ','); i >= 0 {
				ip = ip[:i]
			}
			ip = strings.TrimSpace(ip)
		} else if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}

		ctx := authcore.WithClientIP(r.Context(), ip)
		ctx = authcore.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionToken pulls the bearer token from the Authorization header or the
// session cookie. The second return reports the cookie path, which demands
// the CSRF companion on mutations.
func sessionToken(r *http.Request) (token string, fromCookie bool) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer "), false
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value, true
	}
	return "", false
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *authcore.ValidationError
	var limited *authcore.RateLimitedError

	switch {
	case errors.As(err, &verr):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]any{"error": "invalid request", "fields": verr.Fields})
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(int(limited.RetryAfter.Seconds())))
		render.Status(r, http.StatusTooManyRequests)
		render.JSON(w, r, map[string]any{"error": "too many attempts", "retry_after_seconds": int(limited.RetryAfter.Seconds())})
	case errors.Is(err, authcore.ErrDuplicateIdentifier):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, map[string]any{"error": "identifier already registered"})
	case errors.Is(err, authcore.ErrAccountDisabled):
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, map[string]any{"error": "account disabled"})
	case errors.Is(err, authcore.ErrTokenExpired):
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, map[string]any{"error": "token expired"})
	case errors.Is(err, authcore.ErrUnauthorized),
		errors.Is(err, authcore.ErrSessionInvalid):
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, map[string]any{"error": "unauthorized"})
	case errors.Is(err, authcore.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]any{"error": "not found"})
	case errors.Is(err, authcore.ErrDeliveryFailed):
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, map[string]any{"error": "delivery failed, try again"})
	default:
		a.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]any{"error": "internal error"})
	}
}

func (a *API) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) signUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Phone       string `json:"phone"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.writeError(w, r, &authcore.ValidationError{Fields: map[string]string{"body": "malformed JSON"}})
		return
	}

	res, err := a.engine.SignUp(r.Context(), authcore.SignUpRequest{
		Email:       req.Email,
		Phone:       req.Phone,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]any{
		"account_id":           res.AccountID,
		"status":               res.Status,
		"verification_channel": res.Channel,
	})
}

func (a *API) signIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
		RememberMe bool   `json:"remember_me"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.writeError(w, r, &authcore.ValidationError{Fields: map[string]string{"body": "malformed JSON"}})
		return
	}

	res, err := a.engine.SignIn(r.Context(), authcore.SignInRequest{
		Identifier: req.Identifier,
		Password:   req.Password,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if res.NeedsVerification {
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, map[string]any{
			"needs_verification":   true,
			"verification_channel": res.Channel,
		})
		return
	}

	a.setSessionCookie(w, res.Session.Token, res.Session.ExpiresAt)
	render.JSON(w, r, map[string]any{
		"session_token": res.Session.Token,
		"csrf_token":    res.Session.CSRFToken,
		"expires_at":    res.Session.ExpiresAt,
		"profile":       res.Profile,
	})
}

func (a *API) signOut(w http.ResponseWriter, r *http.Request) {
	token, _, err := a.authenticated(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if err := a.engine.SignOut(r.Context(), token); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.setSessionCookie(w, "", time.Unix(0, 0))
	render.JSON(w, r, map[string]any{"signed_out": true})
}

// authenticated resolves the caller's session token and, on the cookie
// path, demands a valid CSRF companion header.
func (a *API) authenticated(r *http.Request) (string, bool, error) {
	token, fromCookie := sessionToken(r)
	if token == "" {
		return "", false, authcore.ErrSessionInvalid
	}
	if fromCookie {
		if err := a.engine.VerifyCSRF(r.Context(), token, r.Header.Get("X-CSRF-Token")); err != nil {
			return "", true, err
		}
	}
	return token, fromCookie, nil
}

func (a *API) currentSession(w http.ResponseWriter, r *http.Request) {
	token, _ := sessionToken(r)
	if token == "" {
		a.writeError(w, r, authcore.ErrSessionInvalid)
		return
	}

	cur, err := a.engine.GetCurrentSession(r.Context(), token)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{
		"session_id":       cur.SessionID,
		"expires_at":       cur.ExpiresAt,
		"last_activity_at": cur.LastActivityAt,
		"profile":          cur.Profile,
	})
}

func (a *API) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Token string `json:"token"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.writeError(w, r, &authcore.ValidationError{Fields: map[string]string{"body": "malformed JSON"}})
		return
	}

	res, err := a.engine.VerifyEmail(r.Context(), req.Email, req.Token)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.setSessionCookie(w, res.Session.Token, res.Session.ExpiresAt)
	render.JSON(w, r, map[string]any{
		"session_token": res.Session.Token,
		"csrf_token":    res.Session.CSRFToken,
		"expires_at":    res.Session.ExpiresAt,
		"profile":       res.Profile,
	})
}

func (a *API) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
		Code  string `json:"code"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.writeError(w, r, &authcore.ValidationError{Fields: map[string]string{"body": "malformed JSON"}})
		return
	}

	res, err := a.engine.VerifyOtp(r.Context(), req.Phone, req.Code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.setSessionCookie(w, res.Session.Token, res.Session.ExpiresAt)
	render.JSON(w, r, map[string]any{
		"session_token": res.Session.Token,
		"csrf_token":    res.Session.CSRFToken,
		"expires_at":    res.Session.ExpiresAt,
		"profile":       res.Profile,
	})
}

func (a *API) resend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.writeError(w, r, &authcore.ValidationError{Fields: map[string]string{"body": "malformed JSON"}})
		return
	}

	if err := a.engine.ResendVerification(r.Context(), req.Identifier); err != nil {
		a.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]any{"accepted": true})
}

func (a *API) requestReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.writeError(w, r, &authcore.ValidationError{Fields: map[string]string{"body": "malformed JSON"}})
		return
	}

	if err := a.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		a.writeError(w, r, err)
		return
	}
	// Identical response whether or not the address has an account.
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]any{"accepted": true})
}

func (a *API) confirmReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.writeError(w, r, &authcore.ValidationError{Fields: map[string]string{"body": "malformed JSON"}})
		return
	}

	if err := a.engine.ResetPassword(r.Context(), req.Email, req.Token, req.NewPassword); err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"reset": true})
}

func (a *API) issueAPIKey(w http.ResponseWriter, r *http.Request) {
	token, _, err := a.authenticated(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	cur, err := a.engine.GetCurrentSession(r.Context(), token)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	res, err := a.engine.IssueAPIKey(r.Context(), cur.AccountID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]any{
		"api_key":    res.Key,
		"key_id":     res.KeyID,
		"expires_at": res.ExpiresAt,
	})
}

func (a *API) introspectAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.writeError(w, r, &authcore.ValidationError{Fields: map[string]string{"body": "malformed JSON"}})
		return
	}

	profile, err := a.engine.VerifyAPIKey(r.Context(), req.Key)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"profile": profile})
}

func (a *API) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	token, _, err := a.authenticated(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if _, err := a.engine.GetCurrentSession(r.Context(), token); err != nil {
		a.writeError(w, r, err)
		return
	}

	if err := a.engine.RevokeAPIKey(r.Context(), chi.URLParam(r, "keyID")); err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"revoked": true})
}
