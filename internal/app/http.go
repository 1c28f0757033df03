package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"codesync/api/internal/metrics"
	"github.com/gorilla/mux"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// no session required
	router.HandleFunc("/api/auth/register", s.handleRegister).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/api/shared/{token}", s.handleResolveShare).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleSocket).Methods(http.MethodGet)

	api := router.PathPrefix("/api/projects").Subrouter()
	api.HandleFunc("", s.authenticated(s.handleCreateProject)).Methods(http.MethodPost)
	api.HandleFunc("", s.authenticated(s.handleListProjects)).Methods(http.MethodGet)
	api.HandleFunc("/{id}", s.authenticated(s.handleGetProject)).Methods(http.MethodGet)
	api.HandleFunc("/{id}/commit", s.authenticated(s.handleCommit)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/push", s.authenticated(s.handlePush)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/revert", s.authenticated(s.handleRevert)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/collaborators", s.authenticated(s.handleAddCollaborator)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/pull", s.authenticated(s.handlePull)).Methods(http.MethodGet)
	api.HandleFunc("/{id}/history", s.authenticated(s.handleHistory)).Methods(http.MethodGet)
	api.HandleFunc("/{id}/share", s.authenticated(s.handleShare)).Methods(http.MethodGet)
	api.HandleFunc("/{id}/archive", s.authenticated(s.handleArchive)).Methods(http.MethodGet)
	api.HandleFunc("/{id}/archive/{hash}", s.authenticated(s.handleArchivedSnapshot)).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return s.withMiddleware(router)
}

type sessionHandler func(http.ResponseWriter, *http.Request, Session)

func (s *HTTPServer) authenticated(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		next(w, r, session)
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.Register(r.Context(), body.Username, body.Password)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"userId":   user.ID,
		"username": user.Username,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	resp, err := s.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     resp.Token,
		"userId":    resp.User.ID,
		"username":  resp.User.Username,
		"expiresAt": resp.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	project, err := s.service.CreateProject(r.Context(), session, body.Name)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *HTTPServer) handleListProjects(w http.ResponseWriter, r *http.Request, session Session) {
	projects, err := s.service.ListProjects(r.Context(), session)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": projects})
}

func (s *HTTPServer) handleGetProject(w http.ResponseWriter, r *http.Request, session Session) {
	project, err := s.service.GetProject(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *HTTPServer) handleCommit(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	index, err := s.service.Commit(r.Context(), session, mux.Vars(r)["id"], body.Message)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"versionIndex": index})
}

func (s *HTTPServer) handlePush(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		NewCode *string `json:"newCode"`
		Message string  `json:"message"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.NewCode == nil {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_INPUT", "newCode is required", nil)
		return
	}
	index, err := s.service.Push(r.Context(), session, mux.Vars(r)["id"], *body.NewCode, body.Message)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"versionIndex": index, "code": *body.NewCode})
}

func (s *HTTPServer) handleRevert(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		VersionIndex *int `json:"versionIndex"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.VersionIndex == nil {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_INPUT", "versionIndex is required", nil)
		return
	}
	project, err := s.service.Revert(r.Context(), session, mux.Vars(r)["id"], *body.VersionIndex)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": project.Code, "historyLength": project.History.Len()})
}

func (s *HTTPServer) handleAddCollaborator(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.AddCollaborator(r.Context(), session, mux.Vars(r)["id"], body.Username, body.Role); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"username": strings.TrimSpace(body.Username), "role": body.Role})
}

func (s *HTTPServer) handlePull(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.Pull(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, session Session) {
	history, err := s.service.History(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *HTTPServer) handleShare(w http.ResponseWriter, r *http.Request, session Session) {
	link, err := s.service.CreateShareLink(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *HTTPServer) handleResolveShare(w http.ResponseWriter, r *http.Request) {
	shared, err := s.service.ResolveShareLink(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shared)
}

func (s *HTTPServer) handleArchive(w http.ResponseWriter, r *http.Request, session Session) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_INPUT", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	entries, err := s.service.ArchiveHistory(r.Context(), session, mux.Vars(r)["id"], limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (s *HTTPServer) handleArchivedSnapshot(w http.ResponseWriter, r *http.Request, session Session) {
	vars := mux.Vars(r)
	snapshot, err := s.service.ArchivedSnapshot(r.Context(), session, vars["id"], vars["hash"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.Authenticate(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writeJSON(writer, http.StatusNoContent, map[string]any{})
		} else {
			next.ServeHTTP(writer, r)
		}

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("http: %v", err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
