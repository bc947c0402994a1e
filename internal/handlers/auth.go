package handlers

import (
	"log"
	"net/http"

	"github.com/opsdesk/patternd/internal/api"
	"github.com/opsdesk/patternd/internal/middleware"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	jwtAuth *middleware.JWTAuthMiddleware
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(jwtAuth *middleware.JWTAuthMiddleware) *AuthHandler {
	return &AuthHandler{jwtAuth: jwtAuth}
}

// SetupRoutes sets up authentication routes
func (h *AuthHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("GET /auth/verify", h.handleVerify)
	mux.HandleFunc("POST /auth/tokens", middleware.RequireAdministrator(h.handleIssueToken))
}

// handleLogin handles POST /auth/login for the administrator account
func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	if !h.jwtAuth.ValidateCredentials(req.Username, req.Password) {
		log.Printf("AuthHandler: Failed login attempt for user '%s' from %s", req.Username, r.RemoteAddr)
		api.RespondError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	if h.respondToken(w, req.Username, middleware.RoleAdministrator, "") {
		log.Printf("AuthHandler: User '%s' logged in from %s", req.Username, r.RemoteAddr)
	}
}

// handleIssueToken handles POST /auth/tokens, minting a department member
// token for a department dashboard
func (h *AuthHandler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req api.IssueTokenRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	if h.respondToken(w, req.Username, middleware.RoleDepartmentMember, req.Department) {
		log.Printf("AuthHandler: %s issued a %s token for '%s'",
			middleware.GetUserFromContext(r.Context()), req.Department, req.Username)
	}
}

func (h *AuthHandler) respondToken(w http.ResponseWriter, username, role, department string) bool {
	token, err := h.jwtAuth.GenerateToken(username, role, department)
	if err != nil {
		log.Printf("AuthHandler: Failed to generate token for user '%s': %v", username, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to generate token")
		return false
	}

	api.RespondJSON(w, http.StatusOK, api.TokenResponse{
		Token:      token,
		Username:   username,
		Role:       role,
		Department: department,
		ExpiresIn:  int(h.jwtAuth.TokenTTL().Seconds()),
	})
	return true
}

// handleVerify handles GET /auth/verify
func (h *AuthHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		api.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"valid":      true,
		"username":   claims.Username,
		"role":       claims.Role,
		"department": claims.Department,
	})
}
