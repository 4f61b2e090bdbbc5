package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/isdelr/vidstream-be/internal/auth"
	"github.com/isdelr/vidstream-be/internal/media"
	"github.com/isdelr/vidstream-be/internal/models"
)

// TokenPair is an access/refresh token pair issued on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RegisterInput carries the fields and temp file paths of a registration
// request. CoverImagePath may be empty.
type RegisterInput struct {
	Username       string
	Email          string
	FullName       string
	Password       string
	AvatarPath     string
	CoverImagePath string
}

// UserServiceProvider defines the interface for user account operations.
type UserServiceProvider interface {
	Register(ctx context.Context, in RegisterInput) (models.User, error)
	Login(ctx context.Context, identifier, password string) (models.User, TokenPair, error)
	Logout(ctx context.Context, userID string) error
	RefreshSession(ctx context.Context, refreshToken string) (models.User, TokenPair, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword, confirmPassword string) error
	GetUserByID(ctx context.Context, id string) (models.User, error)
	UpdateAccount(ctx context.Context, userID, fullName, email string) (models.User, error)
	UpdateAvatar(ctx context.Context, userID, localPath string) (models.User, error)
	UpdateCoverImage(ctx context.Context, userID, localPath string) (models.User, error)
	GetChannelProfile(ctx context.Context, username, viewerID string) (models.ChannelProfile, error)
}

// UserService provides the business logic for account management. Each user
// holds a single active refresh token; issuing a new one invalidates the
// previous one by overwrite.
type UserService struct {
	db     *sql.DB
	tokens *auth.Manager
	media  media.Uploader
}

// NewUserService creates a new UserService.
func NewUserService(db *sql.DB, tokens *auth.Manager, uploader media.Uploader) *UserService {
	return &UserService{db: db, tokens: tokens, media: uploader}
}

const userColumns = `id, username, email, full_name, password_hash, avatar_url, cover_image_url, refresh_token, created_at, updated_at`

func scanUser(row *sql.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.PasswordHash,
		&u.AvatarURL, &u.CoverImageURL, &u.RefreshToken, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetUserByID retrieves a single user by their ID.
func (s *UserService) GetUserByID(ctx context.Context, id string) (models.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	user, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.User{}, errNotFound("User not found")
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *UserService) getByUsernameOrEmail(ctx context.Context, identifier string) (models.User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ? OR email = ?",
		strings.ToLower(identifier), identifier)
	return scanUser(row)
}

// Register creates a new account. The avatar upload is mandatory; a failed
// cover image upload is tolerated and stored as empty.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (models.User, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.TrimSpace(in.Email)
	fullName := strings.TrimSpace(in.FullName)

	if username == "" || email == "" || fullName == "" || strings.TrimSpace(in.Password) == "" {
		return models.User{}, errValidation("All fields are required")
	}

	var existingID string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM users WHERE username = ? OR email = ?", username, email).Scan(&existingID)
	if err == nil {
		return models.User{}, errConflict("User with this username or email already exists")
	}
	if err != sql.ErrNoRows {
		return models.User{}, err
	}

	if in.AvatarPath == "" {
		return models.User{}, errValidation("Avatar file is required")
	}

	avatarURL, err := s.media.UploadFile(ctx, in.AvatarPath, "avatars")
	if err != nil || avatarURL == "" {
		log.Error().Err(err).Str("username", username).Msg("Avatar upload failed")
		return models.User{}, errUpstream("Avatar upload failed")
	}

	coverImageURL := ""
	if in.CoverImagePath != "" {
		coverImageURL, err = s.media.UploadFile(ctx, in.CoverImagePath, "covers")
		if err != nil {
			// Cover image is optional: a failed upload degrades to "no cover".
			log.Warn().Err(err).Str("username", username).Msg("Cover image upload failed, continuing without it")
			coverImageURL = ""
		}
	}

	hashed, err := hashPassword(in.Password)
	if err != nil {
		return models.User{}, err
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, full_name, password_hash, avatar_url, cover_image_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, username, email, fullName, hashed, avatarURL, coverImageURL)
	if err != nil {
		return models.User{}, fmt.Errorf("creating user: %w", err)
	}

	created, err := s.GetUserByID(ctx, id)
	if err != nil {
		return models.User{}, errUpstream("User creation failed")
	}
	return created.Sanitized(), nil
}

// Login verifies credentials and issues a fresh token pair. The identifier
// may be either a username or an email.
func (s *UserService) Login(ctx context.Context, identifier, password string) (models.User, TokenPair, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return models.User{}, TokenPair{}, errValidation("Username or email is required")
	}

	user, err := s.getByUsernameOrEmail(ctx, identifier)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.User{}, TokenPair{}, errNotFound("User does not exist")
		}
		return models.User{}, TokenPair{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, TokenPair{}, errUnauthorized("Invalid user credentials")
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return models.User{}, TokenPair{}, err
	}
	return user.Sanitized(), pair, nil
}

// Logout clears the caller's stored refresh token, invalidating the session.
func (s *UserService) Logout(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET refresh_token = '', updated_at = CURRENT_TIMESTAMP WHERE id = ?", userID)
	return err
}

// RefreshSession rotates the caller's token pair. The presented refresh token
// must match the stored one exactly; a superseded token is rejected even if
// its signature is still valid.
func (s *UserService) RefreshSession(ctx context.Context, refreshToken string) (models.User, TokenPair, error) {
	if refreshToken == "" {
		return models.User{}, TokenPair{}, errUnauthorized("Unauthorized request")
	}

	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return models.User{}, TokenPair{}, errUnauthorized("Invalid or expired refresh token")
	}

	user, err := s.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return models.User{}, TokenPair{}, errUnauthorized("Invalid refresh token")
	}

	if user.RefreshToken != refreshToken {
		return models.User{}, TokenPair{}, errUnauthorized("Refresh token is expired or already used")
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return models.User{}, TokenPair{}, err
	}
	return user.Sanitized(), pair, nil
}

// ChangePassword verifies the old password and persists a new hash. The hash
// is computed here, at the write boundary, not in a storage hook.
func (s *UserService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword, confirmPassword string) error {
	if newPassword != confirmPassword {
		return errValidation("New password and confirmation do not match")
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return errUnauthorized("Incorrect old password")
	}

	hashed, err := hashPassword(newPassword)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", hashed, userID)
	return err
}

// UpdateAccount updates full name and/or email. At least one must be given.
func (s *UserService) UpdateAccount(ctx context.Context, userID, fullName, email string) (models.User, error) {
	fullName = strings.TrimSpace(fullName)
	email = strings.TrimSpace(email)
	if fullName == "" && email == "" {
		return models.User{}, errValidation("At least one of fullname or email is required")
	}

	if fullName != "" {
		if _, err := s.db.ExecContext(ctx,
			"UPDATE users SET full_name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", fullName, userID); err != nil {
			return models.User{}, err
		}
	}
	if email != "" {
		if _, err := s.db.ExecContext(ctx,
			"UPDATE users SET email = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", email, userID); err != nil {
			return models.User{}, err
		}
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	return user.Sanitized(), nil
}

// UpdateAvatar uploads a new avatar and stores its URL. The superseded
// remote image is left in place.
func (s *UserService) UpdateAvatar(ctx context.Context, userID, localPath string) (models.User, error) {
	return s.updateImage(ctx, userID, localPath, "avatars", "avatar_url", "Avatar upload failed")
}

// UpdateCoverImage uploads a new cover image and stores its URL.
func (s *UserService) UpdateCoverImage(ctx context.Context, userID, localPath string) (models.User, error) {
	return s.updateImage(ctx, userID, localPath, "covers", "cover_image_url", "Cover image upload failed")
}

func (s *UserService) updateImage(ctx context.Context, userID, localPath, keyPrefix, column, failureMsg string) (models.User, error) {
	if localPath == "" {
		return models.User{}, errValidation("Image file is required")
	}

	url, err := s.media.UploadFile(ctx, localPath, keyPrefix)
	if err != nil || url == "" {
		log.Error().Err(err).Str("user_id", userID).Msg(failureMsg)
		return models.User{}, errUpstream(failureMsg)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE users SET "+column+" = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", url, userID)
	if err != nil {
		return models.User{}, err
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	return user.Sanitized(), nil
}

// GetChannelProfile looks up a user as a channel and derives subscriber
// count, subscription count and whether the viewer is subscribed, in a
// single query. viewerID is empty for anonymous callers.
func (s *UserService) GetChannelProfile(ctx context.Context, username, viewerID string) (models.ChannelProfile, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return models.ChannelProfile{}, errValidation("Username is required")
	}

	var p models.ChannelProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.full_name, u.avatar_url, u.cover_image_url, u.created_at,
			(SELECT COUNT(*) FROM subscriptions sub WHERE sub.channel_id = u.id),
			(SELECT COUNT(*) FROM subscriptions sub WHERE sub.subscriber_id = u.id),
			EXISTS (SELECT 1 FROM subscriptions sub WHERE sub.channel_id = u.id AND sub.subscriber_id = ?)
		FROM users u
		WHERE u.username = ?`, viewerID, username).
		Scan(&p.ID, &p.Username, &p.Email, &p.FullName, &p.AvatarURL, &p.CoverImageURL,
			&p.CreatedAt, &p.SubscriberCount, &p.SubscribedToCount, &p.IsSubscribed)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.ChannelProfile{}, errNotFound("Channel does not exist")
		}
		return models.ChannelProfile{}, err
	}
	return p, nil
}

func (s *UserService) issueTokenPair(ctx context.Context, user models.User) (TokenPair, error) {
	accessToken, err := s.tokens.GenerateAccessToken(user)
	if err != nil {
		return TokenPair{}, fmt.Errorf("generating access token: %w", err)
	}
	refreshToken, err := s.tokens.GenerateRefreshToken(user)
	if err != nil {
		return TokenPair{}, fmt.Errorf("generating refresh token: %w", err)
	}

	// Single-slot storage: the overwrite is what invalidates the previous
	// refresh token.
	_, err = s.db.ExecContext(ctx,
		"UPDATE users SET refresh_token = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", refreshToken, user.ID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("persisting refresh token: %w", err)
	}

	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func hashPassword(raw string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}
