package response

import (
	"net/http"

	"dentalclinic/internal/pkg/apperr"

	"github.com/gin-gonic/gin"
)

func Success(c *gin.Context, statusCode int, message string, data interface{}) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(statusCode, gin.H{
		"status":  "success",
		"code":    statusCode,
		"message": message,
		"data":    data,
	})
}

func Error(c *gin.Context, statusCode int, code string, message string) {
	c.JSON(statusCode, gin.H{
		"status":  "error",
		"code":    statusCode,
		"error":   code,
		"message": message,
	})
}

func ErrorWithDetails(c *gin.Context, statusCode int, code string, message string, details any) {
	c.JSON(statusCode, gin.H{
		"status":  "error",
		"code":    statusCode,
		"error":   code,
		"message": message,
		"details": details,
	})
}

// FromError writes the envelope for err. Internal causes are never echoed.
func FromError(c *gin.Context, err error) {
	e := apperr.As(err)
	status := apperr.HTTPStatus(e.Kind)
	_ = c.Error(err)
	if e.Kind == apperr.KindInternal {
		Error(c, http.StatusInternalServerError, apperr.CodeInternal, "internal server error")
		return
	}
	if e.Details != nil {
		ErrorWithDetails(c, status, e.Code, e.Message, e.Details)
		return
	}
	Error(c, status, e.Code, e.Message)
}

// Abort writes an error envelope and stops the handler chain.
func Abort(c *gin.Context, statusCode int, code string, message string) {
	Error(c, statusCode, code, message)
	c.Abort()
}
