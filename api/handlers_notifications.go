package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"catmarket/models"
)

// ListNotifications 列出呼叫者的通知，新的在前
// (GET /notifications)
func (impl *ServerImpl) ListNotifications(c *gin.Context) {
	const op = "ListNotifications"
	userID, ok := callerID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	var notifications []models.Notification
	if result := impl.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&notifications); result.Error != nil {
		slog.Error("Fail to list notifications", slog.String("op", op), slog.Any("error", result.Error))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(notifications), "notifications": notifications})
}

// ReadNotification 將通知標記為已讀
// (PUT /notifications/:notificationID/read)
func (impl *ServerImpl) ReadNotification(c *gin.Context) {
	const op = "ReadNotification"
	userID, ok := callerID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	notification, ok := impl.findOwnNotification(c, op, userID)
	if !ok {
		return
	}
	if !notification.IsRead {
		now := time.Now()
		updates := map[string]any{"is_read": true, "read_at": &now}
		if result := impl.db.WithContext(c.Request.Context()).Model(notification).Updates(updates); result.Error != nil {
			slog.Error("Fail to mark notification as read", slog.String("op", op), slog.Any("error", result.Error))
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

// DeleteNotification 刪除通知
// (DELETE /notifications/:notificationID)
func (impl *ServerImpl) DeleteNotification(c *gin.Context) {
	const op = "DeleteNotification"
	userID, ok := callerID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	notification, ok := impl.findOwnNotification(c, op, userID)
	if !ok {
		return
	}
	if result := impl.db.WithContext(c.Request.Context()).Delete(notification); result.Error != nil {
		slog.Error("Fail to delete notification", slog.String("op", op), slog.Any("error", result.Error))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}

// findOwnNotification 載入通知並檢查是否屬於呼叫者
// 別人的通知一律回404，避免洩漏其存在
func (impl *ServerImpl) findOwnNotification(c *gin.Context, op string, userID uuid.UUID) (*models.Notification, bool) {
	notificationID, err := uuid.Parse(c.Param("notificationID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid notification id"})
		return nil, false
	}
	notification := models.Notification{ID: notificationID}
	if result := impl.db.WithContext(c.Request.Context()).First(&notification); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "notification not found"})
			return nil, false
		}
		slog.Error("Fail to find notification", slog.String("op", op), slog.Any("error", result.Error))
		c.AbortWithStatus(http.StatusInternalServerError)
		return nil, false
	}
	if notification.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"message": "notification not found"})
		return nil, false
	}
	return &notification, true
}
