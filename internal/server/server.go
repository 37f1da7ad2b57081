package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"veridoc/internal/app"
	"veridoc/internal/ratelimit"
	"veridoc/internal/util"
	"veridoc/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	RedisAddr      string
	RedisPassword  string
	MaxUploadBytes int64
	SignupLimit    int
	LoginLimit     int

	// Limiters override the redis-backed ones; tests inject these.
	SignupLimiter *ratelimit.FixedWindowLimiter
	LoginLimiter  *ratelimit.FixedWindowLimiter
}

// Server exposes the HTTP API.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	maxUploadBytes int64
	signupLimiter  *ratelimit.FixedWindowLimiter
	loginLimiter   *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 * 1024 * 1024
	}
	signupLimit := cfg.SignupLimit
	if signupLimit <= 0 {
		signupLimit = 5
	}
	loginLimit := cfg.LoginLimit
	if loginLimit <= 0 {
		loginLimit = 10
	}
	signupLimiter := cfg.SignupLimiter
	loginLimiter := cfg.LoginLimiter
	if signupLimiter == nil || loginLimiter == nil {
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			prefix := "veridoc:ratelimit:" + name
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		var err error
		if signupLimiter == nil {
			if signupLimiter, err = newLimiter("signup", signupLimit); err != nil {
				return nil, err
			}
		}
		if loginLimiter == nil {
			if loginLimiter, err = newLimiter("login", loginLimit); err != nil {
				return nil, err
			}
		}
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		signupLimiter:  signupLimiter,
		loginLimiter:   loginLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the shared middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)

	// account
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/users/me/password", s.authenticated(s.handleChangePassword))

	// chats
	s.mux.Handle("/api/chats", s.authenticated(s.handleChats))
	s.mux.Handle("/api/chats/", s.authenticated(s.handleChatByID))

	// menu catalog
	s.mux.Handle("/api/options", s.authenticated(s.handleOptions))

	// admin
	s.mux.Handle("/api/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/api/admin/users/", s.adminOnly(s.handleAdminUserByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.Account)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := s.authorize(r)
		if !ok {
			s.audit(r, "authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, account)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, account domain.Account) {
		if !account.IsAdmin {
			s.audit(r, "admin.authorize", "fail", "account_id", account.ID)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, account)
	})
}

func (s *Server) authorize(r *http.Request) (domain.Account, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.Account{}, false
	}
	return s.app.AccountFromToken(token)
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		return
	}
	var req signupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	account, token, err := s.app.SignUp(req.DisplayName, req.Email, req.Password)
	if err != nil {
		s.audit(r, "signup", "fail")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit(r, "signup", "success", "account_id", account.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, Account: account})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	account, token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "login", "fail")
		if errors.Is(err, app.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.audit(r, "login", "success", "account_id", account.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, Account: account})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(token); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// account handlers
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, account domain.Account) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, account)
	case http.MethodDelete:
		deleted, err := s.app.DeleteAccount(account.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !deleted {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.audit(r, "account.delete", "success", "account_id", account.ID)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, account domain.Account) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req changePasswordRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "currentPassword and newPassword are required")
		return
	}
	if err := s.app.ChangePassword(account, req.CurrentPassword, req.NewPassword); err != nil {
		s.audit(r, "password.change", "fail", "account_id", account.ID)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit(r, "password.change", "success", "account_id", account.ID)
	w.WriteHeader(http.StatusNoContent)
}

// chat handlers
func (s *Server) handleChats(w http.ResponseWriter, r *http.Request, account domain.Account) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r, account)
	case http.MethodGet:
		chats, err := s.app.ListChats(account)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": chats,
			"count": len(chats),
		})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, account domain.Account) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	chat, err := s.app.UploadAndCreateChat(account, name, header.Header.Get("Content-Type"), content, r.FormValue("title"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

// /api/chats/{id}, /api/chats/{id}/reanalyze, /api/chats/{id}/file,
// /api/chats/{id}/options/{optionId}
func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request, account domain.Account) {
	path := strings.TrimPrefix(r.URL.Path, "/api/chats/")
	parts := strings.SplitN(path, "/", 3)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			chat, err := s.app.GetChat(account, id)
			if err != nil {
				s.writeChatError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, chat)
		case http.MethodDelete:
			if err := s.app.DeleteChat(account, id); err != nil {
				s.writeChatError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch parts[1] {
	case "reanalyze":
		if len(parts) != 2 {
			notFound(w, "not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		chat, err := s.app.ReanalyzeChat(account, id)
		if err != nil {
			s.writeChatError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	case "file":
		if len(parts) != 2 {
			notFound(w, "not found")
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		file, url, err := s.app.ViewChatFile(account, id)
		if err != nil {
			s.writeChatError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, fileResponse{File: file, URL: url})
	case "options":
		if len(parts) != 3 || parts[2] == "" {
			notFound(w, "not found")
			return
		}
		// Resolving an option never mutates the chat, so this is a GET.
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		result, err := s.app.SelectChatOption(account, id, parts[2])
		if err != nil {
			s.writeChatError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"result": result})
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request, _ domain.Account) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	options, err := s.app.ListMenuOptions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": options,
		"count": len(options),
	})
}

// admin handlers
func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, _ domain.Account) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	accounts, err := s.app.ListAccounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": accounts,
		"count": len(accounts),
	})
}

// /api/admin/users/{id} or /api/admin/users/{id}/promote
func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request, admin domain.Account) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}

	if len(parts) == 2 && parts[1] == "promote" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := s.app.PromoteAccount(id); err != nil {
			if errors.Is(err, app.ErrAccountNotFound) {
				notFound(w, "account not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		s.audit(r, "account.promote", "success", "account_id", id, "by", admin.ID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "promoted"})
		return
	}
	if len(parts) == 2 {
		notFound(w, "not found")
		return
	}

	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	deleted, err := s.app.DeleteAccount(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !deleted {
		notFound(w, "account not found")
		return
	}
	s.audit(r, "account.delete", "success", "account_id", id, "by", admin.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrChatNotFound):
		notFound(w, "chat not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r)
	if limiter.Allow(key) {
		return true
	}
	s.audit(r, "ratelimit", "fail")
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == app.ErrInvalidCredentials.Error():
		return "AUTH_INVALID_CREDENTIALS"
	case message == app.ErrEmailAlreadyExists.Error():
		return "AUTH_EMAIL_TAKEN"
	case strings.HasPrefix(message, "password must"):
		return "AUTH_WEAK_PASSWORD"
	case message == "forbidden":
		return "AUTH_FORBIDDEN"
	case message == "chat not found":
		return "CHAT_NOT_FOUND"
	case message == "account not found":
		return "ACCOUNT_NOT_FOUND"
	case message == "file too large":
		return "FILE_TOO_LARGE"
	case strings.Contains(message, "file is required"), message == app.ErrFileNameRequired.Error():
		return "FILE_REQUIRED"
	case message == "invalid form data":
		return "CHAT_INVALID_UPLOAD_FORM"
	case message == "invalid json body":
		return "REQUEST_INVALID_BODY"
	case strings.HasPrefix(message, "too many"):
		return "RATE_LIMITED"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "AUTH_FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

type signupRequest struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type authResponse struct {
	Token   string         `json:"token"`
	Account domain.Account `json:"account"`
}

type fileResponse struct {
	File domain.File `json:"file"`
	URL  string      `json:"url"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
