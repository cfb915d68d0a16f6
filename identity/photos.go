package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/minio/minio-go/v7"
)

// ErrPhotoUpload is returned when a profile photo cannot be fetched from
// the messenger or persisted to the blob store. Callers treat the photo as
// best-effort: this error must never roll back an approval.
var ErrPhotoUpload = errors.New("profile photo upload failed")

// preferredPhotoWidth selects which of the messenger's pre-scaled photo
// sizes to re-host.
const preferredPhotoWidth = 256

// PhotoAPI is the subset of the Telegram Bot API used to locate a user's
// profile photo.
type PhotoAPI interface {
	GetUserProfilePhotos(config tgbotapi.UserProfilePhotosConfig) (tgbotapi.UserProfilePhotos, error)
	GetFileDirectURL(fileID string) (string, error)
}

// BlobStore is the subset of the S3 client used to persist photos.
type BlobStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// PhotoHoster copies a messenger profile photo into an S3-compatible bucket
// and exposes it under a public URL, keyed by the account digest so the
// object name reveals nothing about the account.
type PhotoHoster struct {
	api     PhotoAPI
	blobs   BlobStore
	client  *http.Client
	bucket  string
	baseURL string
}

// NewPhotoHoster builds a hoster. baseURL is the public prefix under which
// bucket objects are reachable.
func NewPhotoHoster(api PhotoAPI, blobs BlobStore, bucket, baseURL string) *PhotoHoster {
	return &PhotoHoster{
		api:     api,
		blobs:   blobs,
		client:  http.DefaultClient,
		bucket:  bucket,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// HostPhoto re-hosts the account's current profile photo and returns its
// public URL. It returns an empty URL and no error when the account has no
// profile photo.
func (h *PhotoHoster) HostPhoto(ctx context.Context, ref Ref) (string, error) {
	photos, err := h.api.GetUserProfilePhotos(tgbotapi.UserProfilePhotosConfig{
		UserID: ref.AccountID(),
		Limit:  1,
	})
	if err != nil {
		return "", fmt.Errorf("%w: list profile photos: %v", ErrPhotoUpload, err)
	}
	if photos.TotalCount == 0 || len(photos.Photos) == 0 || len(photos.Photos[0]) == 0 {
		return "", nil
	}

	size := pickPhotoSize(photos.Photos[0], preferredPhotoWidth)
	fileURL, err := h.api.GetFileDirectURL(size.FileID)
	if err != nil {
		return "", fmt.Errorf("%w: resolve photo file: %v", ErrPhotoUpload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPhotoUpload, err)
	}
	res, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch photo: %v", ErrPhotoUpload, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: fetch photo: unexpected status %d", ErrPhotoUpload, res.StatusCode)
	}

	object := "photos/" + ref.Digest() + fileExt(fileURL)
	_, err = h.blobs.PutObject(ctx, h.bucket, object, res.Body, res.ContentLength, minio.PutObjectOptions{
		ContentType: res.Header.Get("Content-Type"),
	})
	if err != nil {
		return "", fmt.Errorf("%w: store photo: %v", ErrPhotoUpload, err)
	}
	return h.baseURL + "/" + object, nil
}

// pickPhotoSize returns the size closest to the preferred width, preferring
// larger over smaller when nothing matches exactly.
func pickPhotoSize(sizes []tgbotapi.PhotoSize, preferred int) tgbotapi.PhotoSize {
	var best *tgbotapi.PhotoSize
	for i := range sizes {
		size := &sizes[i]
		if size.Width >= preferred && (best == nil || size.Width < best.Width) {
			best = size
		}
	}
	if best == nil {
		return sizes[len(sizes)-1]
	}
	return *best
}

func fileExt(fileURL string) string {
	if ext := path.Ext(fileURL); ext != "" {
		return ext
	}
	return ".jpg"
}
