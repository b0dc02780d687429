package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/keygate/keygate/internal/service"
)

// AuthHandler serves account registration and session issuance.
type AuthHandler struct {
	authSvc *service.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authSvc *service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// registerRequest is the expected payload for the Register endpoint.
type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a new user account.
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	if msg := checkPasswordPolicy(req.Password); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	userID, err := h.authSvc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrNameConflict) {
			writeError(w, http.StatusConflict, "Email already registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to register: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":    userID,
		"email": req.Email,
	})
}

// loginResponse is the response payload for a successful login. ExpiresAt
// is the absolute instant the session token stops validating, derived from
// its issue time.
type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login authenticates a user and issues a session token. The request body is
// form-encoded in the OAuth2 password-grant shape: username, password, and
// an optional grant_type which must be "password" when present.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form body: "+err.Error())
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	grantType := r.PostFormValue("grant_type")

	if grantType != "" && grantType != "password" {
		writeError(w, http.StatusBadRequest, "Unsupported grant_type: "+grantType)
		return
	}
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	token, expiresAt, err := h.authSvc.Login(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "Authentication error: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
	})
}

// checkPasswordPolicy returns an empty string when the password is
// acceptable, otherwise a human-readable rejection reason. Passwords need at
// least 8 characters with an upper-case letter, a lower-case letter, and a
// digit.
func checkPasswordPolicy(password string) string {
	if len(password) < 8 {
		return "Password must be at least 8 characters"
	}
	var upper, lower, digit bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsLower(c):
			lower = true
		case unicode.IsDigit(c):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return "Password must contain an upper-case letter, a lower-case letter, and a digit"
	}
	return ""
}
