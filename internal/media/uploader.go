package media

import "context"

// Uploader hands local files to the media storage backend and returns the
// public URL they can be served from. Implementations must remove the local
// temp file whether or not the upload succeeds.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, keyPrefix string) (string, error)
	DeleteFile(ctx context.Context, objectKey string) error
}
