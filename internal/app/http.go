package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"archive/api/internal/auth"
	"archive/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *slog.Logger
	actions    map[string]actionHandler

	blobPrefix  string
	blobHandler http.Handler
}

// actionHandler runs one envelope action. actor is nil for anonymous calls.
type actionHandler func(ctx context.Context, actor *Actor, payload json.RawMessage) (map[string]any, error)

type actionRequest struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

func NewHTTPServer(service *Service, corsOrigin string, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger.With("component", "http")}
	s.actions = s.routes()
	return s
}

// ServeBlobs mounts h under prefix for GET and HEAD requests. Used when
// attachments live in process memory and have no object store to link to.
func (s *HTTPServer) ServeBlobs(prefix string, h http.Handler) {
	s.blobPrefix = strings.TrimRight(prefix, "/")
	s.blobHandler = http.StripPrefix(s.blobPrefix, h)
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) routes() map[string]actionHandler {
	svc := s.service
	return map[string]actionHandler{
		"upload_archive_item": func(ctx context.Context, actor *Actor, raw json.RawMessage) (map[string]any, error) {
			var in UploadItemInput
			if err := decodePayload(raw, &in); err != nil {
				return nil, err
			}
			return svc.UploadItem(ctx, actor, in)
		},
		"add_archive_item": func(ctx context.Context, actor *Actor, raw json.RawMessage) (map[string]any, error) {
			var in AddItemInput
			if err := decodePayload(raw, &in); err != nil {
				return nil, err
			}
			return svc.AddItem(ctx, actor, in)
		},
		"update_archive_item": func(ctx context.Context, actor *Actor, raw json.RawMessage) (map[string]any, error) {
			var in UpdateItemInput
			if err := decodePayload(raw, &in); err != nil {
				return nil, err
			}
			return svc.UpdateItem(ctx, actor, in)
		},
		"delete_archive_item": func(ctx context.Context, actor *Actor, raw json.RawMessage) (map[string]any, error) {
			var in struct {
				ItemID string `json:"item_id"`
			}
			if err := decodePayload(raw, &in); err != nil {
				return nil, err
			}
			return svc.DeleteItem(ctx, actor, in.ItemID)
		},
		"reorder_archive_items": func(ctx context.Context, actor *Actor, raw json.RawMessage) (map[string]any, error) {
			var in struct {
				ProfileID      string   `json:"profile_id"`
				OrderedItemIDs []string `json:"ordered_item_ids"`
			}
			if err := decodePayload(raw, &in); err != nil {
				return nil, err
			}
			return svc.ReorderItems(ctx, actor, in.ProfileID, in.OrderedItemIDs)
		},
		"list_archive_items": func(ctx context.Context, actor *Actor, raw json.RawMessage) (map[string]any, error) {
			var in struct {
				ProfileID  string `json:"profile_id"`
				ViewerRole string `json:"viewer_role"`
			}
			if err := decodePayload(raw, &in); err != nil {
				return nil, err
			}
			return svc.ListItems(ctx, actor, in.ProfileID, in.ViewerRole)
		},
		"get_item_url": func(ctx context.Context, actor *Actor, raw json.RawMessage) (map[string]any, error) {
			var in struct {
				ItemID     string `json:"item_id"`
				ViewerRole string `json:"viewer_role"`
			}
			if err := decodePayload(raw, &in); err != nil {
				return nil, err
			}
			return svc.ItemURL(ctx, actor, in.ItemID, in.ViewerRole)
		},
		"review_archive_item": func(ctx context.Context, actor *Actor, raw json.RawMessage) (map[string]any, error) {
			var in struct {
				ItemID   string `json:"item_id"`
				Decision string `json:"decision"`
				Note     string `json:"note"`
			}
			if err := decodePayload(raw, &in); err != nil {
				return nil, err
			}
			return svc.ReviewItem(ctx, actor, in.ItemID, in.Decision, in.Note)
		},
		"get_profile": func(ctx context.Context, actor *Actor, raw json.RawMessage) (map[string]any, error) {
			var in struct {
				ProfileID string `json:"profile_id"`
			}
			if err := decodePayload(raw, &in); err != nil {
				return nil, err
			}
			return svc.GetProfile(ctx, actor, in.ProfileID)
		},
		"update_profile": func(ctx context.Context, actor *Actor, raw json.RawMessage) (map[string]any, error) {
			var in UpdateProfileInput
			if err := decodePayload(raw, &in); err != nil {
				return nil, err
			}
			return svc.UpdateProfile(ctx, actor, in)
		},
		"submit_profile_for_review": func(ctx context.Context, actor *Actor, raw json.RawMessage) (map[string]any, error) {
			var in struct {
				ProfileID string `json:"profile_id"`
			}
			if err := decodePayload(raw, &in); err != nil {
				return nil, err
			}
			return svc.SubmitProfile(ctx, actor, in.ProfileID)
		},
		"withdraw_submission": func(ctx context.Context, actor *Actor, raw json.RawMessage) (map[string]any, error) {
			var in struct {
				ProfileID string `json:"profile_id"`
			}
			if err := decodePayload(raw, &in); err != nil {
				return nil, err
			}
			return svc.WithdrawSubmission(ctx, actor, in.ProfileID)
		},
		"review_profile": func(ctx context.Context, actor *Actor, raw json.RawMessage) (map[string]any, error) {
			var in struct {
				ProfileID string `json:"profile_id"`
				Decision  string `json:"decision"`
				Note      string `json:"note"`
			}
			if err := decodePayload(raw, &in); err != nil {
				return nil, err
			}
			return svc.ReviewProfile(ctx, actor, in.ProfileID, in.Decision, in.Note)
		},
		"send_notification": func(ctx context.Context, actor *Actor, raw json.RawMessage) (map[string]any, error) {
			var in NotificationInput
			if err := decodePayload(raw, &in); err != nil {
				return nil, err
			}
			return svc.SendNotification(ctx, actor, in)
		},
		"search_archive": func(_ context.Context, _ *Actor, raw json.RawMessage) (map[string]any, error) {
			var in SearchInput
			if err := decodePayload(raw, &in); err != nil {
				return nil, err
			}
			return svc.Search(in), nil
		},
	}
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
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
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name  string `json:"name"`
			Email string `json:"email"`
			Kind  string `json:"kind"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeFailure(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name, body.Email, auth.Kind(strings.ToLower(strings.TrimSpace(body.Kind))))
		if err != nil {
			s.fail(w, r, "login", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"token":      session.Token,
			"user_id":    session.UserID,
			"user_name":  session.UserName,
			"kind":       session.Kind,
			"profile_id": session.ProfileID,
			"expires_at": session.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		actor, err := s.actor(r)
		if err != nil || actor == nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user_id": actor.UserID, "user_name": actor.Name, "kind": actor.Kind})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/actions" {
		s.handleAction(w, r)
		return
	}

	if s.blobHandler != nil && strings.HasPrefix(r.URL.Path, s.blobPrefix+"/") {
		s.blobHandler.ServeHTTP(w, r)
		return
	}

	writeFailure(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

// actor resolves the bearer token. A request without one is anonymous; an
// invalid token is an error.
func (s *HTTPServer) actor(r *http.Request) (*Actor, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, nil
	}
	return s.service.ActorFromToken(r.Context(), token)
}

func (s *HTTPServer) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
		return
	}
	handler, ok := s.actions[req.Action]
	if !ok {
		writeFailure(w, http.StatusBadRequest, CodeUnknownAction, fmt.Sprintf("unknown action %q", req.Action), nil)
		return
	}
	actor, err := s.actor(r)
	if err != nil {
		s.fail(w, r, req.Action, err)
		return
	}

	result, err := handler(r.Context(), actor, req.Payload)
	if err != nil {
		s.fail(w, r, req.Action, err)
		return
	}
	if result == nil {
		result = map[string]any{}
	}
	result["success"] = true
	writeJSON(w, http.StatusOK, result)
}

// fail renders err into the failure envelope. Unexpected errors are logged
// and reported without detail.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("action failed",
			"request_id", requestIDFrom(r.Context()),
			"action", action,
			"error", err,
		)
	}
	writeFailure(w, status, code, message, details)
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

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
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

// writeFailure renders {success:false, error:code, detail}.
func writeFailure(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"error":   code,
		"detail":  message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
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

func decodePayload(raw json.RawMessage, target any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return domainError(http.StatusBadRequest, CodeInvalidBody, "invalid payload: "+err.Error(), nil)
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
