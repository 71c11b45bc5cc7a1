package auth

import (
	"net/http"

	"github.com/campuskit/checkpoint/internal/models"
)

// GetUserFromContext extracts user claims injected by AuthMiddleware.
// Returns nil when the request was not authenticated.
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
