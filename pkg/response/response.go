package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the JSON envelope every diagnostics endpoint answers with.
type Body struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func OK(c *gin.Context, data any) { c.JSON(http.StatusOK, Body{Success: true, Data: data}) }

func Created(c *gin.Context, data any) { c.JSON(http.StatusCreated, Body{Success: true, Data: data}) }

func NoContent(c *gin.Context) { c.Status(http.StatusNoContent) }

func BadRequest(c *gin.Context, msg string) { fail(c, http.StatusBadRequest, msg) }

func NotFound(c *gin.Context, msg string) { fail(c, http.StatusNotFound, msg) }

// ServiceUnavailable reports a dependency (such as the report exporter) that
// is not configured.
func ServiceUnavailable(c *gin.Context, msg string) { fail(c, http.StatusServiceUnavailable, msg) }

func Internal(c *gin.Context, msg string) { fail(c, http.StatusInternalServerError, msg) }

// fail aborts the handler chain so later middleware sees the final status.
func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Body{Error: msg})
}
