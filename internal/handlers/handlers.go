package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/bakeready/internal/auth"
	"github.com/example/bakeready/internal/prediction"
	"github.com/example/bakeready/internal/predictclient"
	"github.com/example/bakeready/internal/usecase"
)

// MaxUploadSize is the default upload limit in bytes.
const MaxUploadSize = 10 << 20

// SessionHeader carries the session of anonymous callers.
const SessionHeader = "X-Session-ID"

// multipartOverhead leaves room for boundaries and part headers.
const multipartOverhead = 1 << 20

// RegisterRoutes wires the HTTP handlers to the Gin router. A nil
// authMiddleware leaves the prediction route open.
func RegisterRoutes(router *gin.Engine, svc *usecase.AttemptService, authMiddleware gin.HandlerFunc, maxUploadSize int64) {
	if maxUploadSize <= 0 {
		maxUploadSize = MaxUploadSize
	}

	router.GET("/health", func(c *gin.Context) {
		upstream, err := svc.Health(c.Request.Context(), c.Request.Host)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "upstream": upstream})
	})

	predict := []gin.HandlerFunc{}
	if authMiddleware != nil {
		predict = append(predict, authMiddleware)
	}
	predict = append(predict, predictHandler(svc, maxUploadSize))
	router.POST("/predict", predict...)

	router.GET("/attempts/:id", func(c *gin.Context) {
		attemptID := c.Param("id")
		if attemptID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		status, err := svc.GetStatus(c.Request.Context(), attemptID)
		if errors.Is(err, usecase.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, status)
	})

	router.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if errors.Is(err, usecase.ErrMetricsUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func predictHandler(svc *usecase.AttemptService, maxUploadSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize+multipartOverhead)

		file, err := c.FormFile(predictclient.FileField)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if file.Size > maxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}

		data, err := readUpload(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		mimeType := uploadContentType(file, data)
		if !strings.HasPrefix(mimeType, "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only image uploads are supported"})
			return
		}

		attempt := svc.Run(c.Request.Context(), usecase.AttemptRequest{
			Session: sessionOf(c),
			Host:    c.Request.Host,
			Image:   prediction.NewImage(data, file.Filename, mimeType),
		})

		if attempt.Superseded {
			c.JSON(http.StatusConflict, gin.H{
				"attempt_id": attempt.ID,
				"error":      usecase.ErrSuperseded.Error(),
				"kind":       string(usecase.StateSuperseded),
			})
			return
		}

		if failure := attempt.Outcome.Failure; failure != nil {
			c.JSON(failureStatus(failure), gin.H{
				"attempt_id": attempt.ID,
				"error":      failure.Message,
				"kind":       string(failure.Kind),
			})
			return
		}

		days := attempt.Outcome.Success.Days
		c.JSON(http.StatusOK, gin.H{
			"attempt_id":            attempt.ID,
			"days_until_bake_ready": days,
			"message":               prediction.Describe(days),
			"progress":              prediction.RipenessProgress(days),
		})
	}
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func uploadContentType(file *multipart.FileHeader, data []byte) string {
	declared := strings.TrimSpace(file.Header.Get("Content-Type"))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(data)
}

func sessionOf(c *gin.Context) string {
	if subject, ok := auth.GetSubject(c.Request.Context()); ok {
		return subject
	}
	return strings.TrimSpace(c.GetHeader(SessionHeader))
}

func failureStatus(failure *prediction.Failure) int {
	if failure.Timeout() {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
