package cloudinary

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/cloudinary/cloudinary-go/v2/config"
)

// Client uploads message attachments.
type Client interface {
	Upload(ctx context.Context, file io.Reader, folder, publicID, mediaType string) (UploadResult, error)
}

type UploadResult struct {
	URL          string
	ThumbnailURL string
	PublicID     string
}

const (
	MediaImage    = "image"
	MediaVideo    = "video"
	MediaDocument = "document"
)

const (
	ThumbWidth = 200

	imageEager = "q_auto,f_auto,w_800,c_limit"
	videoEager = "q_auto:low,f_auto,w_1280"
)

var eagerAsyncFalse = false

// MediaTypeFor classifies an upload from its declared content type, falling back to the file extension.
func MediaTypeFor(filename, contentType string) string {
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	}
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return MediaImage
	case strings.HasPrefix(contentType, "video/"):
		return MediaVideo
	}
	return MediaDocument
}

// BuildOptimizedImageURL returns a Cloudinary URL with transformations for optimized delivery.
func BuildOptimizedImageURL(cloudName, publicID string, width int) string {
	return fmt.Sprintf("https://res.cloudinary.com/%s/image/upload/q_auto,f_auto,w_%d,c_fill/%s",
		cloudName, width, publicID)
}

type clientImpl struct {
	cloudName string
	uploader  *uploader.API
}

// Upload stores images and videos with eager optimizations; documents are stored raw.
func (c *clientImpl) Upload(ctx context.Context, file io.Reader, folder, publicID, mediaType string) (UploadResult, error) {
	params := uploader.UploadParams{Folder: folder, PublicID: publicID}
	switch mediaType {
	case MediaImage:
		params.Eager = imageEager
		params.EagerAsync = &eagerAsyncFalse
	case MediaVideo:
		params.ResourceType = "video"
		params.Eager = videoEager
		params.EagerAsync = &eagerAsyncFalse
	default:
		params.ResourceType = "raw"
	}
	result, err := c.uploader.Upload(ctx, file, params)
	if err != nil {
		return UploadResult{}, err
	}
	if result.Error.Message != "" {
		return UploadResult{}, fmt.Errorf("cloudinary: %s", result.Error.Message)
	}
	out := UploadResult{URL: result.SecureURL, PublicID: result.PublicID}
	if len(result.Eager) > 0 {
		out.ThumbnailURL = result.Eager[0].SecureURL
	}
	if out.ThumbnailURL == "" && mediaType == MediaImage {
		out.ThumbnailURL = BuildOptimizedImageURL(c.cloudName, result.PublicID, ThumbWidth)
	}
	return out, nil
}

// NewClientFromParams builds a Client from Cloudinary cloud name, API key, and secret.
func NewClientFromParams(cloudName, apiKey, apiSecret string) (Client, error) {
	cfg, err := config.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, err
	}
	up, err := uploader.NewWithConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	return &clientImpl{cloudName: cloudName, uploader: up}, nil
}
