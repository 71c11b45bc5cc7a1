package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/campuskit/checkpoint/internal/handlers"
	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/services"
)

func TestLogin_Success(t *testing.T) {
	mockAuth := &handlers.MockAuthenticator{
		LoginFunc: func(ctx context.Context, email, password string) (*services.TokenPair, error) {
			return &services.TokenPair{
				AccessToken:  "access_token_123",
				RefreshToken: "refresh_token_123",
				User: &models.User{
					ID:        "user_123",
					Email:     email,
					Name:      "Test Professor",
					Role:      models.RoleProfessor,
					CreatedAt: time.Now(),
				},
			}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "prof@example.edu",
		Password: "correct-password",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp handlers.AuthResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "access_token_123", resp.AccessToken)
	assert.Equal(t, "refresh_token_123", resp.RefreshToken)
	assert.Equal(t, "prof@example.edu", resp.User.Email)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	mockAuth := &handlers.MockAuthenticator{
		LoginFunc: func(ctx context.Context, email, password string) (*services.TokenPair, error) {
			return nil, models.ErrUnauthorized
		},
	}

	handler := handlers.NewAuthHandler(mockAuth)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "prof@example.edu",
		Password: "wrong-password",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestLogin_MissingEmail(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthenticator{})
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Password: "some-password",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestRefreshToken_Success(t *testing.T) {
	mockAuth := &handlers.MockAuthenticator{
		RefreshTokensFunc: func(ctx context.Context, refreshToken string) (*services.TokenPair, error) {
			assert.Equal(t, "refresh_token_123", refreshToken)
			return &services.TokenPair{
				AccessToken:  "new_access_token",
				RefreshToken: "new_refresh_token",
				User:         &models.User{ID: "user_123", Role: models.RoleStudent},
			}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth)
	req := handlers.NewTestRequest(t, "POST", "/auth/refresh", handlers.RefreshRequest{
		RefreshToken: "refresh_token_123",
	})

	w := httptest.NewRecorder()
	handler.RefreshToken(w, req)

	var resp handlers.AuthResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "new_access_token", resp.AccessToken)
}

func TestRegister_Success(t *testing.T) {
	mockAuth := &handlers.MockAuthenticator{
		RegisterFunc: func(ctx context.Context, email, name, password, role string) (*models.User, error) {
			return &models.User{
				ID:        "user_456",
				Email:     email,
				Name:      name,
				Role:      role,
				CreatedAt: time.Now(),
			}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth)
	req := handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
		Email:    "student@example.edu",
		Name:     "New Student",
		Password: "a-long-password-123",
		Role:     "student",
	})

	w := httptest.NewRecorder()
	handler.Register(w, req)

	var resp handlers.UserResponse
	handlers.AssertJSONResponse(t, w, 201, &resp)
	assert.Equal(t, "user_456", resp.ID)
	assert.Equal(t, "student", resp.Role)
}

func TestRegister_ShortPassword(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthenticator{})
	req := handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
		Email:    "student@example.edu",
		Name:     "New Student",
		Password: "short",
		Role:     "student",
	})

	w := httptest.NewRecorder()
	handler.Register(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestRegister_InvalidRole(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthenticator{})
	req := handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
		Email:    "student@example.edu",
		Name:     "New Student",
		Password: "a-long-password-123",
		Role:     "superuser",
	})

	w := httptest.NewRecorder()
	handler.Register(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}
