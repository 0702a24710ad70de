package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/iurnickita/profitsync/internal/auth/config"
	"github.com/iurnickita/profitsync/internal/token"
)

type Auth interface {
	Login(w http.ResponseWriter, r *http.Request)
	Logout(w http.ResponseWriter, r *http.Request)
	Middleware(h http.HandlerFunc) http.HandlerFunc
}

const (
	HeaderUsernameKey = "X-Admin-Username"
	cookieSession     = "session"
)

type auth struct {
	cfg           config.Config
	tokens        *token.Issuer
	secureCookies bool
	zaplog        *zap.Logger
}

func NewAuth(cfg config.Config, secureCookies bool, zaplog *zap.Logger) (Auth, error) {
	tokens, err := token.NewIssuer(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	return &auth{
		cfg:           cfg,
		tokens:        tokens,
		secureCookies: secureCookies,
		zaplog:        zaplog.Named("auth"),
	}, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Login принимает JSON или форму с username/password
func (a *auth) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, loginResponse{Message: "Invalid request body"})
			return
		}
	} else {
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, loginResponse{Message: "Missing fields"})
		return
	}
	if !a.checkPassword(req.Username, req.Password) {
		a.zaplog.Info("login rejected", zap.String("username", req.Username))
		writeJSON(w, http.StatusUnauthorized, loginResponse{Message: "Invalid credentials"})
		return
	}

	tokenString, err := a.tokens.BuildJWTString(req.Username)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieSession,
		Value:    tokenString,
		Path:     "/",
		MaxAge:   int(a.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{OK: true})
}

func (a *auth) checkPassword(username, password string) bool {
	if a.cfg.AdminPasswordHash == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.AdminUsername)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(a.cfg.AdminPasswordHash), []byte(password)) == nil
	return userOK && passOK
}

func (a *auth) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieSession,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{OK: true})
}

func (a *auth) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// получение пользователя из сессии
		username, err := a.getUsername(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// записываем
		r.Header.Set(HeaderUsernameKey, username)

		// передаём управление хендлеру
		h.ServeHTTP(w, r)
	}
}

func (a *auth) getUsername(r *http.Request) (string, error) {
	tokenCookie, err := r.Cookie(cookieSession)
	if err != nil {
		return "", err
	}
	return a.tokens.GetUsername(tokenCookie.Value)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
