package services

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdelr/vidstream-be/internal/auth"
	"github.com/isdelr/vidstream-be/internal/database"
)

// fakeUploader stands in for the S3 client. Like the real one it consumes
// the local temp file whether or not the upload succeeds.
type fakeUploader struct {
	failAll    bool
	failCovers bool
	uploads    []string
}

func (f *fakeUploader) UploadFile(_ context.Context, localPath, keyPrefix string) (string, error) {
	os.Remove(localPath)
	if f.failAll || (f.failCovers && keyPrefix == "covers") {
		return "", errors.New("upload failed")
	}
	url := "https://cdn.test/" + keyPrefix + "/" + filepath.Base(localPath)
	f.uploads = append(f.uploads, url)
	return url, nil
}

func (f *fakeUploader) DeleteFile(context.Context, string) error { return nil }

func newTestService(t *testing.T) (*UserService, *sql.DB, *fakeUploader) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })

	tokens := auth.NewManager("access-secret", "refresh-secret", time.Hour, 10*time.Hour)
	uploader := &fakeUploader{}
	return NewUserService(db, tokens, uploader), db, uploader
}

func tempImage(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "img-*.png")
	require.NoError(t, err)
	_, err = f.WriteString("fake image bytes")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func registerInput(t *testing.T, username, email string) RegisterInput {
	return RegisterInput{
		Username:   username,
		Email:      email,
		FullName:   "Test User",
		Password:   "s3cret-pass",
		AvatarPath: tempImage(t),
	}
}

func userCount(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM users").Scan(&n))
	return n
}

func TestRegister_Success(t *testing.T) {
	svc, _, _ := newTestService(t)

	user, err := svc.Register(context.Background(), registerInput(t, "  Alice ", "alice@example.com"))
	require.NoError(t, err)

	assert.Equal(t, "alice", user.Username, "username must be lowercased and trimmed")
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEmpty(t, user.AvatarURL)
	assert.Empty(t, user.CoverImageURL)
	assert.Empty(t, user.PasswordHash, "created record must not carry the password hash")
	assert.Empty(t, user.RefreshToken, "created record must not carry the refresh token")
}

func TestRegister_DuplicateUsernameIsConflictRegardlessOfCasing(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, registerInput(t, "alice", "alice@example.com"))
	require.NoError(t, err)

	_, err = svc.Register(ctx, registerInput(t, "ALICE", "other@example.com"))
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, StatusOf(err))

	_, err = svc.Register(ctx, registerInput(t, "bob", "alice@example.com"))
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, StatusOf(err))
}

func TestRegister_MissingFields(t *testing.T) {
	svc, db, _ := newTestService(t)

	in := registerInput(t, "alice", "alice@example.com")
	in.FullName = "   "
	_, err := svc.Register(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))
	assert.Zero(t, userCount(t, db))
}

func TestRegister_MissingAvatarFailsBeforeAnyWrite(t *testing.T) {
	svc, db, uploader := newTestService(t)

	in := registerInput(t, "alice", "alice@example.com")
	in.AvatarPath = ""
	_, err := svc.Register(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))
	assert.Zero(t, userCount(t, db))
	assert.Empty(t, uploader.uploads)
}

func TestRegister_AvatarUploadFailure(t *testing.T) {
	svc, db, uploader := newTestService(t)
	uploader.failAll = true

	_, err := svc.Register(context.Background(), registerInput(t, "alice", "alice@example.com"))
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
	assert.Zero(t, userCount(t, db))
}

func TestRegister_CoverImageFailureIsTolerated(t *testing.T) {
	svc, _, uploader := newTestService(t)
	uploader.failCovers = true

	in := registerInput(t, "alice", "alice@example.com")
	in.CoverImagePath = tempImage(t)
	user, err := svc.Register(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, user.CoverImageURL, "failed cover upload must degrade to no cover image")
	assert.NotEmpty(t, user.AvatarURL)
}

func TestLogin_SuccessPersistsReturnedRefreshToken(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, registerInput(t, "alice", "alice@example.com"))
	require.NoError(t, err)

	user, pair, err := svc.Login(ctx, "alice", "s3cret-pass")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Empty(t, user.PasswordHash)
	assert.Empty(t, user.RefreshToken)

	var stored string
	require.NoError(t, db.QueryRow("SELECT refresh_token FROM users WHERE id = ?", user.ID).Scan(&stored))
	assert.Equal(t, pair.RefreshToken, stored, "stored refresh token must equal the one returned to the client")
}

func TestLogin_ByEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, registerInput(t, "alice", "alice@example.com"))
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "alice@example.com", "s3cret-pass")
	require.NoError(t, err)
}

func TestLogin_StatusCodes(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, registerInput(t, "alice", "alice@example.com"))
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "alice", "wrong-password")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))

	_, _, err = svc.Login(ctx, "nobody", "s3cret-pass")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))

	_, _, err = svc.Login(ctx, "   ", "s3cret-pass")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))
}

func TestRefreshSession_RotatesAndRejectsSupersededToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, registerInput(t, "alice", "alice@example.com"))
	require.NoError(t, err)
	_, first, err := svc.Login(ctx, "alice", "s3cret-pass")
	require.NoError(t, err)

	_, second, err := svc.RefreshSession(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The superseded token still has a valid signature but no longer matches
	// the stored one.
	_, _, err = svc.RefreshSession(ctx, first.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))

	_, _, err = svc.RefreshSession(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshSession_InvalidOrMissingToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.RefreshSession(ctx, "")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))

	_, _, err = svc.RefreshSession(ctx, "not.a.jwt")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
}

func TestLogout_InvalidatesStoredRefreshToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, registerInput(t, "alice", "alice@example.com"))
	require.NoError(t, err)
	_, pair, err := svc.Login(ctx, "alice", "s3cret-pass")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, created.ID))

	_, _, err = svc.RefreshSession(ctx, pair.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
}

func TestChangePassword_ConfirmationMismatchLeavesOldPasswordUsable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, registerInput(t, "alice", "alice@example.com"))
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, created.ID, "s3cret-pass", "new-pass", "different")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))

	_, _, err = svc.Login(ctx, "alice", "s3cret-pass")
	require.NoError(t, err, "old password must remain usable after a failed change")
}

func TestChangePassword_WrongOldPassword(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, registerInput(t, "alice", "alice@example.com"))
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, created.ID, "wrong", "new-pass", "new-pass")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))

	_, _, err = svc.Login(ctx, "alice", "s3cret-pass")
	require.NoError(t, err)
}

func TestChangePassword_Success(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, registerInput(t, "alice", "alice@example.com"))
	require.NoError(t, err)

	require.NoError(t, svc.ChangePassword(ctx, created.ID, "s3cret-pass", "new-pass", "new-pass"))

	_, _, err = svc.Login(ctx, "alice", "s3cret-pass")
	require.Error(t, err)
	_, _, err = svc.Login(ctx, "alice", "new-pass")
	require.NoError(t, err)
}

func TestUpdateAccount(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, registerInput(t, "alice", "alice@example.com"))
	require.NoError(t, err)

	_, err = svc.UpdateAccount(ctx, created.ID, "  ", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))

	user, err := svc.UpdateAccount(ctx, created.ID, "Alice Cooper", "")
	require.NoError(t, err)
	assert.Equal(t, "Alice Cooper", user.FullName)
	assert.Equal(t, "alice@example.com", user.Email)

	user, err = svc.UpdateAccount(ctx, created.ID, "", "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice Cooper", user.FullName)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Empty(t, user.PasswordHash)
}

func TestUpdateAvatarAndCoverImage(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, registerInput(t, "alice", "alice@example.com"))
	require.NoError(t, err)
	oldAvatar := created.AvatarURL

	user, err := svc.UpdateAvatar(ctx, created.ID, tempImage(t))
	require.NoError(t, err)
	assert.NotEqual(t, oldAvatar, user.AvatarURL)

	user, err = svc.UpdateCoverImage(ctx, created.ID, tempImage(t))
	require.NoError(t, err)
	assert.NotEmpty(t, user.CoverImageURL)

	_, err = svc.UpdateAvatar(ctx, created.ID, "")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))
}

func TestUpdateAvatar_UploadFailure(t *testing.T) {
	svc, _, uploader := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, registerInput(t, "alice", "alice@example.com"))
	require.NoError(t, err)

	uploader.failAll = true
	_, err = svc.UpdateAvatar(ctx, created.ID, tempImage(t))
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, StatusOf(err))

	// Stored avatar is untouched by the failed update.
	unchanged, err := svc.GetUserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.AvatarURL, unchanged.AvatarURL)
}

func subscribe(t *testing.T, db *sql.DB, subscriberID, channelID string) {
	t.Helper()
	_, err := db.Exec("INSERT INTO subscriptions (subscriber_id, channel_id) VALUES (?, ?)", subscriberID, channelID)
	require.NoError(t, err)
}

func TestGetChannelProfile_ZeroSubscribersAnonymousViewer(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, registerInput(t, "alice", "alice@example.com"))
	require.NoError(t, err)

	profile, err := svc.GetChannelProfile(ctx, "alice", "")
	require.NoError(t, err)
	assert.Zero(t, profile.SubscriberCount)
	assert.Zero(t, profile.SubscribedToCount)
	assert.False(t, profile.IsSubscribed)
}

func TestGetChannelProfile_CountsAndViewerSubscription(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	alice, err := svc.Register(ctx, registerInput(t, "alice", "alice@example.com"))
	require.NoError(t, err)
	bob, err := svc.Register(ctx, registerInput(t, "bob", "bob@example.com"))
	require.NoError(t, err)
	carol, err := svc.Register(ctx, registerInput(t, "carol", "carol@example.com"))
	require.NoError(t, err)

	subscribe(t, db, bob.ID, alice.ID)
	subscribe(t, db, carol.ID, alice.ID)
	subscribe(t, db, alice.ID, bob.ID)

	// Lookup is case-normalized.
	profile, err := svc.GetChannelProfile(ctx, "ALICE", bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, profile.SubscriberCount)
	assert.EqualValues(t, 1, profile.SubscribedToCount)
	assert.True(t, profile.IsSubscribed)

	profile, err = svc.GetChannelProfile(ctx, "alice", carol.ID)
	require.NoError(t, err)
	assert.True(t, profile.IsSubscribed)

	profile, err = svc.GetChannelProfile(ctx, "bob", carol.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, profile.SubscriberCount)
	assert.False(t, profile.IsSubscribed)
}

func TestGetChannelProfile_Errors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetChannelProfile(ctx, "   ", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))

	_, err = svc.GetChannelProfile(ctx, "ghost", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
}
