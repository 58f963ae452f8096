package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stevemurr/collection-crud/document"
	"github.com/stevemurr/collection-crud/store"
)

// Proxied adapts an Action to a gin handler: a result is written as JSON
// with 200, an error is mapped to a status by StatusFor and written as
// {"detail": "..."}.
func (c *Controller) Proxied(name string, action Action) gin.HandlerFunc {
	collection := c.service.Collection()
	return func(ctx *gin.Context) {
		start := time.Now()
		result, err := action(ctx)
		status := http.StatusOK
		if err != nil {
			status = StatusFor(err)
			writeError(ctx, status, err)
		} else {
			writeJSON(ctx, status, result)
		}
		requestsTotal.WithLabelValues(collection, name, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(collection, name).Observe(time.Since(start).Seconds())
	}
}

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidBody), errors.Is(err, document.ErrInvalidID), errors.Is(err, store.ErrInvalidCollection):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(ctx *gin.Context, status int, v any) {
	// A nil slice would encode as null.
	if docs, ok := v.([]*document.Document); ok && docs == nil {
		v = []*document.Document{}
	}
	ctx.JSON(status, v)
}

func writeError(ctx *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		zap.S().Errorw("Internal server error",
			"error", err,
			"path", ctx.Request.URL.Path,
			"method", ctx.Request.Method,
			"request id", ctx.GetString(RequestIDKey),
		)
	}
	ctx.JSON(status, gin.H{"detail": err.Error()})
}
