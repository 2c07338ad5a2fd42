package handler

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"classroom/internal/middleware"
	"classroom/internal/models"
	"classroom/pkg/cloudinary"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxAttachmentBytes = 25 << 20

type UploadHandler struct {
	cloud  cloudinary.Client
	folder string
	log    *zap.Logger
}

func NewUploadHandler(cloud cloudinary.Client, folder string, log *zap.Logger) *UploadHandler {
	return &UploadHandler{cloud: cloud, folder: folder, log: log}
}

// UploadAttachment stores a file for a chat message and returns the attachment to send with it.
func (h *UploadHandler) UploadAttachment(c *gin.Context) {
	if h.cloud == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads not configured"})
		return
	}
	userID := middleware.GetUserID(c)
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	if file.Size > maxAttachmentBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	mediaType := cloudinary.MediaTypeFor(file.Filename, file.Header.Get("Content-Type"))
	folder := h.folder + "/chat/" + strconv.FormatUint(uint64(userID), 10)
	publicID := mediaType[:3] + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}
	defer f.Close()

	res, err := h.cloud.Upload(c.Request.Context(), f, folder, publicID, mediaType)
	if err != nil {
		h.log.Warn("attachment_upload_failed", zap.Uint("user_id", userID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"attachment": models.Attachment{
			Name:      filepath.Base(file.Filename),
			URL:       res.URL,
			MediaType: mediaType,
		},
		"thumbnail_url": res.ThumbnailURL,
	})
}
