package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	internalS3 "catmarket/adapters/s3"
	"catmarket/models"
)

// maxImageSize 限制單張圖片的大小
const maxImageSize = 5 << 20

// UploadImage 上傳刊登用的圖片
// (POST /images)
func (impl *ServerImpl) UploadImage(c *gin.Context) {
	const op = "UploadImage"
	uploaderID, ok := callerID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	// 每小時的上傳次數限制
	if limit := impl.config.S3.RateLimitPerHour; limit > 0 {
		var uploaded int64
		since := time.Now().Add(-time.Hour)
		if result := impl.db.WithContext(c.Request.Context()).
			Model(&models.Image{}).
			Where("uploader_id = ? AND created_at > ?", uploaderID, since).
			Count(&uploaded); result.Error != nil {
			slog.Error("Fail to count recent uploads", slog.String("op", op), slog.Any("error", result.Error))
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if uploaded >= limit {
			c.JSON(http.StatusTooManyRequests, gin.H{"message": "upload limit reached, try again later"})
			return
		}
	}

	content, err := io.ReadAll(internalS3.NewMaxSizeReader(c.Request.Body, maxImageSize))
	if err != nil {
		var reachLimitErr *internalS3.ReachLimitError
		if errors.As(err, &reachLimitErr) {
			c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("image exceeds the %s limit", internalS3.FormatBytes(maxImageSize))})
			return
		}
		slog.Error("Fail to read image content", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	// 副檔名由實際內容決定，不信任客戶端宣告的Content-Type
	mimeType := http.DetectContentType(content)
	secure, ext := internalS3.CheckSecureImageAndGetExtension(mimeType)
	if !secure {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("unsupported image type %q", mimeType)})
		return
	}

	url, err := impl.imageStore.Upload(c.Request.Context(), internalS3.ListingImageKey(ext), mimeType, content)
	if err != nil {
		slog.Error("Fail to upload image", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	image := models.Image{
		UploaderID: uploaderID,
		Url:        url,
	}
	if result := impl.db.WithContext(c.Request.Context()).Create(&image); result.Error != nil {
		slog.Error("Fail to record uploaded image", slog.String("op", op), slog.Any("error", result.Error))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Header("Location", url)
	c.JSON(http.StatusCreated, gin.H{"id": image.ID, "url": url})
}
