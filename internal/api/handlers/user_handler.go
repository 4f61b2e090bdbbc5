package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/isdelr/vidstream-be/internal/auth"
	"github.com/isdelr/vidstream-be/internal/services"
)

const maxUploadSize = 32 << 20 // 32 MB multipart memory limit

// UserHandler handles HTTP requests for account management.
type UserHandler struct {
	service    services.UserServiceProvider
	tempDir    string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewUserHandler creates a new UserHandler. tempDir is where multipart
// uploads are spooled before they are pushed to media storage.
func NewUserHandler(service services.UserServiceProvider, tempDir string, accessTTL, refreshTTL time.Duration) *UserHandler {
	return &UserHandler{service: service, tempDir: tempDir, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// LoginPayload defines the structure for login requests. Either username or
// email identifies the account.
type LoginPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles new user registration. Expects a multipart form with the
// account fields plus a required avatar file and an optional cover image.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondErrorMsg(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	avatarPath, err := h.saveUpload(r, "avatar")
	if err != nil {
		respondErrorMsg(w, http.StatusInternalServerError, "Failed to store uploaded file")
		return
	}
	coverPath, err := h.saveUpload(r, "coverImage")
	if err != nil {
		respondErrorMsg(w, http.StatusInternalServerError, "Failed to store uploaded file")
		return
	}
	// The uploader consumes temp files; these removes only fire when the
	// request fails before the upload step.
	defer os.Remove(avatarPath)
	defer os.Remove(coverPath)

	user, err := h.service.Register(r.Context(), services.RegisterInput{
		Username:       r.FormValue("username"),
		Email:          r.FormValue("email"),
		FullName:       r.FormValue("fullname"),
		Password:       r.FormValue("password"),
		AvatarPath:     avatarPath,
		CoverImagePath: coverPath,
	})
	if err != nil {
		log.Warn().Err(err).Str("username", r.FormValue("username")).Msg("Registration failed")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, user, "User registered successfully")
}

// Login handles user authentication, issues a token pair and sets the auth
// cookies.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload LoginPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondErrorMsg(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	identifier := payload.Username
	if identifier == "" {
		identifier = payload.Email
	}

	user, pair, err := h.service.Login(r.Context(), identifier, payload.Password)
	if err != nil {
		log.Warn().Err(err).Str("identifier", identifier).Msg("Failed login attempt")
		respondError(w, err)
		return
	}

	h.setAuthCookies(w, pair)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user":         user,
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	}, "User logged in successfully")
}

// Logout clears the caller's stored refresh token and expires both cookies.
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondErrorMsg(w, http.StatusUnauthorized, "Unauthorized request")
		return
	}

	if err := h.service.Logout(r.Context(), claims.UserID); err != nil {
		log.Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to log out user")
		respondError(w, err)
		return
	}

	h.clearAuthCookies(w)
	respondJSON(w, http.StatusOK, nil, "User logged out successfully")
}

// RefreshToken rotates the caller's token pair. The refresh token is read
// from the cookie or, failing that, the request body.
func (h *UserHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var token string
	if cookie, err := r.Cookie("refreshToken"); err == nil {
		token = cookie.Value
	}
	if token == "" {
		var payload struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			token = payload.RefreshToken
		}
	}

	_, pair, err := h.service.RefreshSession(r.Context(), token)
	if err != nil {
		log.Warn().Err(err).Msg("Refresh token rejected")
		respondError(w, err)
		return
	}

	h.setAuthCookies(w, pair)
	respondJSON(w, http.StatusOK, pair, "Access token refreshed")
}

// ChangePassword handles changing the caller's password.
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondErrorMsg(w, http.StatusUnauthorized, "Unauthorized request")
		return
	}

	var payload struct {
		OldPassword     string `json:"oldPassword"`
		NewPassword     string `json:"newPassword"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondErrorMsg(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.service.ChangePassword(r.Context(), claims.UserID, payload.OldPassword, payload.NewPassword, payload.ConfirmPassword)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, nil, "Password changed successfully")
}

// CurrentUser returns the authenticated caller's sanitized record.
func (h *UserHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondErrorMsg(w, http.StatusUnauthorized, "Unauthorized request")
		return
	}

	user, err := h.service.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", claims.UserID).Msg("User from token not found in DB")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user.Sanitized(), "Current user fetched successfully")
}

// UpdateAccount updates the caller's full name and/or email.
func (h *UserHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondErrorMsg(w, http.StatusUnauthorized, "Unauthorized request")
		return
	}

	var payload struct {
		FullName string `json:"fullname"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondErrorMsg(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.service.UpdateAccount(r.Context(), claims.UserID, payload.FullName, payload.Email)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user, "Account details updated successfully")
}

// UpdateAvatar replaces the caller's avatar from a single multipart file.
func (h *UserHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, "avatar", func(r *http.Request, userID, path string) (interface{}, error) {
		return h.service.UpdateAvatar(r.Context(), userID, path)
	})
}

// UpdateCoverImage replaces the caller's cover image.
func (h *UserHandler) UpdateCoverImage(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, "coverImage", func(r *http.Request, userID, path string) (interface{}, error) {
		return h.service.UpdateCoverImage(r.Context(), userID, path)
	})
}

func (h *UserHandler) updateImage(w http.ResponseWriter, r *http.Request, field string,
	update func(r *http.Request, userID, path string) (interface{}, error)) {

	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondErrorMsg(w, http.StatusUnauthorized, "Unauthorized request")
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondErrorMsg(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	path, err := h.saveUpload(r, field)
	if err != nil {
		respondErrorMsg(w, http.StatusInternalServerError, "Failed to store uploaded file")
		return
	}
	if path == "" {
		respondErrorMsg(w, http.StatusBadRequest, "Image file is required")
		return
	}
	defer os.Remove(path)

	user, err := update(r, claims.UserID, path)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user, "Image updated successfully")
}

// Channel returns a channel profile with subscriber counts. Works for
// anonymous callers too; isSubscribed is then always false.
func (h *UserHandler) Channel(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	viewerID := ""
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		viewerID = claims.UserID
	}

	profile, err := h.service.GetChannelProfile(r.Context(), username, viewerID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, profile, "Channel profile fetched successfully")
}

// saveUpload spools the named multipart file into the temp dir and returns
// its path. Returns "" without error when the field is absent.
func (h *UserHandler) saveUpload(r *http.Request, field string) (string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", err
	}
	defer file.Close()

	if err := os.MkdirAll(h.tempDir, 0755); err != nil {
		return "", err
	}

	ext := filepath.Ext(header.Filename)
	tmp, err := os.CreateTemp(h.tempDir, "upload-*"+ext)
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, file); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (h *UserHandler) setAuthCookies(w http.ResponseWriter, pair services.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     "accessToken",
		Value:    pair.AccessToken,
		Expires:  time.Now().Add(h.accessTTL),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "refreshToken",
		Value:    pair.RefreshToken,
		Expires:  time.Now().Add(h.refreshTTL),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
	})
}

func (h *UserHandler) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{"accessToken", "refreshToken"} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteStrictMode,
			Path:     "/",
		})
	}
}
