package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type contextKey struct{}

var userIDKey contextKey

// UserIDFrom returns the authenticated user id placed by RequireUser.
func UserIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// WithUserID returns a child context carrying userID (tests and internal
// call sites).
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// BearerToken extracts the credential from the Authorization header, falling
// back to the access_token query parameter for WebSocket clients that cannot
// set headers during the upgrade.
func BearerToken(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h != "" {
		scheme, rest, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", ErrNoCredential
		}
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return "", ErrNoCredential
		}
		return rest, nil
	}

	if q := strings.TrimSpace(r.URL.Query().Get("access_token")); q != "" {
		return q, nil
	}
	return "", ErrNoCredential
}

// RequireUser wraps next, rejecting requests without a valid credential and
// otherwise exposing the resolved UserID via UserIDFrom.
func RequireUser(log *slog.Logger, v Verifier, next http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := BearerToken(r)
		if err != nil {
			writeUnauthorized(w, "missing_credential", "bearer credential required")
			return
		}

		userID, err := v.Verify(tok, time.Now().UTC())
		if err != nil {
			log.Info("auth.reject", "path", r.URL.Path, "err", err)
			writeUnauthorized(w, "invalid_credential", "credential rejected")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func writeUnauthorized(w http.ResponseWriter, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="shelfswap"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}
