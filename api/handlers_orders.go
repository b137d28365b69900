package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"catmarket/workflow"
)

// ApproveOrder 賣家接受指定的出價，成立訂單
// (PUT /orders/:orderID/approve)
func (impl *ServerImpl) ApproveOrder(c *gin.Context) {
	const op = "ApproveOrder"
	callerID, ok := callerID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	tenderID, err := uuid.Parse(c.Param("orderID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid order id"})
		return
	}
	item, err := impl.engine.Accept(c.Request.Context(), tenderID, callerID)
	if err != nil {
		abortWithWorkflowError(c, op, err)
		return
	}
	impl.announceListingClosed(item)
	c.JSON(http.StatusOK, item)
}

// RejectOrder 賣家拒絕指定的出價
// (PUT /orders/:orderID/reject)
func (impl *ServerImpl) RejectOrder(c *gin.Context) {
	const op = "RejectOrder"
	callerID, ok := callerID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	tenderID, err := uuid.Parse(c.Param("orderID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid order id"})
		return
	}
	if err := impl.engine.Reject(c.Request.Context(), tenderID, callerID); err != nil {
		abortWithWorkflowError(c, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CancelOrder 買家撤回自己的出價
// (PUT /orders/:orderID/cancel)
func (impl *ServerImpl) CancelOrder(c *gin.Context) {
	const op = "CancelOrder"
	callerID, ok := callerID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	tenderID, err := uuid.Parse(c.Param("orderID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid order id"})
		return
	}
	if err := impl.engine.Cancel(c.Request.Context(), tenderID, callerID); err != nil {
		abortWithWorkflowError(c, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// abortWithWorkflowError 把狀態機錯誤對應到HTTP狀態碼
func abortWithWorkflowError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "order not found"})
	case errors.Is(err, workflow.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"message": "caller is not allowed to perform this operation"})
	case errors.Is(err, workflow.ErrListingClosed):
		c.JSON(http.StatusGone, gin.H{"message": "listing is closed"})
	case errors.Is(err, workflow.ErrInvalidStateTransition):
		c.JSON(http.StatusConflict, gin.H{"message": "order is not in a state that allows this operation"})
	default:
		slog.Error("Fail to transition order", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
	}
}
