package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pliu/parley/internal/auth"
	"github.com/pliu/parley/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the account side of the store used for signup and login.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	SearchUsers(ctx context.Context, query string, exclude int64) ([]models.User, error)
	UpdateProfile(ctx context.Context, id int64, patch models.ProfilePatch) (*models.User, error)
	SetPassword(ctx context.Context, id int64, hash string) error
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthHandler struct {
	Store         UserStore
	Issuer        *auth.Issuer
	SecureCookies bool
}

const minPasswordLength = 6

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	type SignupRequest struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		Phone       string `json:"phone"`
	}

	var req SignupRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeError(w, r, badRequest("username is required"))
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, r, badRequest("password must be at least %d characters", minPasswordLength))
		return
	}
	if err := models.CheckPhone(strings.TrimSpace(req.Phone)); err != nil {
		writeError(w, r, err)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, err)
		return
	}

	user := &models.User{
		Username:    req.Username,
		Email:       strings.TrimSpace(req.Email),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Phone:       strings.TrimSpace(req.Phone),
		Password:    string(hashedPassword),
	}
	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		writeError(w, r, err)
		return
	}

	writeResponse(w, r, http.StatusCreated, userView(*user))
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := decodeBody(r, &creds); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.Store.GetUserByUsername(r.Context(), creds.Username)
	if errors.Is(err, models.ErrNotFound) {
		writeResponse(w, r, http.StatusUnauthorized, errorBody{Error: "Invalid credentials"})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(creds.Password)); err != nil {
		writeResponse(w, r, http.StatusUnauthorized, errorBody{Error: "Invalid credentials"})
		return
	}

	token, expires, err := h.Issuer.Sign(user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	writeResponse(w, r, http.StatusOK, map[string]any{
		"user":       userView(*user),
		"token":      token,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.Store.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResponse(w, r, http.StatusOK, userView(*user))
}

type ProfileRequest struct {
	DisplayName *string `json:"display_name"`
	Email       *string `json:"email"`
	AvatarURL   *string `json:"avatar_url"`
	Phone       *string `json:"phone"`
}

// UpdateProfile serves PATCH /me.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ProfileRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.Store.UpdateProfile(r.Context(), userID, models.ProfilePatch{
		DisplayName: req.DisplayName,
		Email:       req.Email,
		AvatarURL:   req.AvatarURL,
		Phone:       req.Phone,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResponse(w, r, http.StatusOK, userView(*user))
}

type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword serves POST /me/password. Existing sessions stay valid.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req PasswordChangeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		writeError(w, r, badRequest("password must be at least %d characters", minPasswordLength))
		return
	}

	user, err := h.Store.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.CurrentPassword)); err != nil {
		writeError(w, r, fmt.Errorf("%w: current password is incorrect", models.ErrForbidden))
		return
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.SetPassword(r.Context(), userID, string(hashedPassword)); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("password_changed", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeResponse(w, r, http.StatusOK, []userJSON{})
		return
	}

	users, err := h.Store.SearchUsers(r.Context(), query, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]userJSON, len(users))
	for i, u := range users {
		out[i] = userView(u)
	}
	writeResponse(w, r, http.StatusOK, out)
}
