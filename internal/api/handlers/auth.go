package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/mail"
	"strings"

	"github.com/sjaiswal27/courierdrop/internal/api/middleware"
	"github.com/sjaiswal27/courierdrop/internal/audit"
	"github.com/sjaiswal27/courierdrop/internal/auth"
	"github.com/sjaiswal27/courierdrop/internal/models"
	"github.com/sjaiswal27/courierdrop/internal/utils"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// AuthHandler is the authentication collaborator: it turns credentials into
// bearer session tokens. The transfer core only ever sees the resulting
// user identity.
type AuthHandler struct {
	DB          *gorm.DB
	Tokens      *auth.Service
	Audit       *audit.Logger
	Google      *oauth2.Config
	FrontendURL string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.JSONResponse(w, http.StatusMethodNotAllowed, utils.Payload{
			Success: false,
			Message: "Method not allowed",
		})
		return
	}

	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Invalid input",
		})
		return
	}

	email := normalizeEmail(input.Email)
	if _, err := mail.ParseAddress(email); err != nil || input.Password == "" {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Invalid input",
		})
		return
	}

	var existing models.User
	err := h.DB.Where("email = ?", email).First(&existing).Error
	switch {
	case err == nil:
		h.Audit.Record("register_failed", zap.String("email", email), zap.String("reason", "email_exists"))
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Email already registered",
		})
		return
	case errors.Is(err, gorm.ErrRecordNotFound):
		// new account
	default:
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Database query failed",
		})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to hash password",
		})
		return
	}

	user := models.User{Email: email, PasswordHash: string(hashed)}
	if err := h.DB.Create(&user).Error; err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Database insert failed",
		})
		return
	}

	h.Audit.Record("register_success", zap.Uint("user_id", user.ID), zap.String("email", user.Email))
	utils.JSONResponse(w, http.StatusCreated, utils.Payload{
		Success: true,
		Message: "User registered successfully",
		Data:    map[string]any{"id": user.ID, "email": user.Email},
	})
}

// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.JSONResponse(w, http.StatusMethodNotAllowed, utils.Payload{
			Success: false,
			Message: "Method not allowed",
		})
		return
	}

	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil || input.Email == "" || input.Password == "" {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Invalid input",
		})
		return
	}

	var user models.User
	err := h.DB.Where("email = ?", normalizeEmail(input.Email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		h.Audit.Record("login_failed", zap.String("email", input.Email))
		utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
			Success: false,
			Message: "Invalid credentials",
		})
		return
	}
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Database error",
		})
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)) != nil {
		h.Audit.Record("login_failed", zap.String("email", input.Email))
		utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
			Success: false,
			Message: "Invalid credentials",
		})
		return
	}

	tokenString, err := h.Tokens.IssueSession(user.ID)
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to create token",
		})
		return
	}

	h.Audit.Record("login_success", zap.Uint("user_id", user.ID))
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Login successful",
		Data: map[string]any{
			"access_token": tokenString,
			"token_type":   "bearer",
		},
	})
}

// POST /api/v1/auth/logout
// Bearer sessions are stateless; logout is a client-side discard.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Logged out successfully",
	})
}

// GET /api/v1/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
			Success: false,
			Message: "Unauthorized",
		})
		return
	}
	var user models.User
	if err := h.DB.First(&user, userID).Error; err != nil {
		utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
			Success: false,
			Message: "User not found",
		})
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Current user",
		Data:    user,
	})
}

// GET /api/v1/users
// Authenticated listing used by the receiver dropdown on the send page.
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	var users []models.User
	if err := h.DB.Select("id", "email", "created_at").Order("email ASC").Find(&users).Error; err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Database error",
		})
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Users",
		Data:    users,
	})
}

// GET /api/v1/auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	redirectType := r.URL.Query().Get("redirect") // "login" or "register"
	if redirectType == "" {
		redirectType = "login"
	}

	state, err := GenerateState(map[string]string{"flow": redirectType})
	if err != nil {
		http.Error(w, "Failed to generate OAuth state", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.Google.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// GET /api/v1/auth/google/callback
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	stateData, err := DecodeState(r.FormValue("state"))
	if err != nil {
		http.Error(w, "Invalid OAuth state", http.StatusBadRequest)
		return
	}
	flowType := stateData["flow"]

	token, err := h.Google.Exchange(context.Background(), r.FormValue("code"))
	if err != nil {
		http.Error(w, "Code exchange failed", http.StatusInternalServerError)
		return
	}

	client := h.Google.Client(context.Background(), token)
	resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		http.Error(w, "Failed to get user info", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	var googleUser struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(data, &googleUser); err != nil {
		http.Error(w, "Failed to parse user info", http.StatusInternalServerError)
		return
	}

	email := normalizeEmail(googleUser.Email)
	var user models.User
	err = h.DB.Where("email = ?", email).First(&user).Error

	switch flowType {
	case "register":
		if err == nil {
			http.Redirect(w, r, h.FrontendURL+"/login?error=user_already_exists", http.StatusTemporaryRedirect)
			return
		}
		user = models.User{Email: email} // Google-authenticated, no password
		if err := h.DB.Create(&user).Error; err != nil {
			http.Error(w, "Failed to create user", http.StatusInternalServerError)
			return
		}
	default: // login
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Redirect(w, r, h.FrontendURL+"/register?error=user_not_found", http.StatusTemporaryRedirect)
			return
		}
		if err != nil {
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
	}

	tokenString, err := h.Tokens.IssueSession(user.ID)
	if err != nil {
		http.Error(w, "Failed to create token", http.StatusInternalServerError)
		return
	}

	h.Audit.Record("login_success", zap.Uint("user_id", user.ID), zap.String("provider", "google"))
	http.Redirect(w, r, h.FrontendURL+"/auth/callback?token="+tokenString, http.StatusTemporaryRedirect)
}
