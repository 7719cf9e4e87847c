package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pmr/pmr-api/internal/core/validation"
	"github.com/pmr/pmr-api/internal/log"
)

const (
	MessageValidation = "Error de validación."
	MessageInternal   = "Ocurrió un error al procesar la solicitud, si el problema persiste comuníquelo al equipo de desarrollo."
)

func success(c *gin.Context, status int, message string, data any) {
	body := gin.H{"status": true, "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

func failure(c *gin.Context, status int, message string, errs any) {
	body := gin.H{"status": false, "message": message}
	if errs != nil {
		body["errors"] = errs
	}
	c.JSON(status, body)
}

func fieldErrors(field string, messages ...string) map[string][]string {
	return map[string][]string{field: messages}
}

// bindingFailed answers a failed ShouldBindJSON: validator errors become a
// 422 field map, anything else (malformed JSON) a 400.
func bindingFailed(c *gin.Context, message string, err error) {
	var verrs *validation.ValidationErrors
	if errors.As(validation.FromBindingError(err), &verrs) {
		failure(c, http.StatusUnprocessableEntity, message, verrs.Fields())
		return
	}
	failure(c, http.StatusBadRequest, message, fieldErrors("body", err.Error()))
}

// internalError logs err and answers with a generic 500.
func internalError(c *gin.Context, logger log.Logger, err error) {
	_ = c.Error(err)
	logger.Error("request failed",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"error", err)
	failure(c, http.StatusInternalServerError, MessageInternal, nil)
}

// storeError answers a data store failure with a 500 that carries the
// driver's message under errors.database.
func storeError(c *gin.Context, logger log.Logger, err error) {
	_ = c.Error(err)
	logger.Error("data store failure",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"error", err)
	failure(c, http.StatusInternalServerError, MessageInternal, fieldErrors("database", err.Error()))
}

func retryAfter(c *gin.Context, seconds int) {
	c.Header("Retry-After", strconv.Itoa(seconds))
}
