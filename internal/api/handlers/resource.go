package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pmr/pmr-api/internal/api/middleware"
	"github.com/pmr/pmr-api/internal/core/auth"
	"github.com/pmr/pmr-api/internal/core/query"
	"github.com/pmr/pmr-api/internal/core/resource"
	"github.com/pmr/pmr-api/internal/core/validation"
	"github.com/pmr/pmr-api/internal/log"
	"github.com/pmr/pmr-api/internal/storage/postgres"
)

// ResourceService is the generic CRUD surface served for every registered
// resource. Implemented by resource.Service.
type ResourceService interface {
	List(ctx context.Context, def *resource.Definition, input map[string]any) (*query.ResultEnvelope, error)
	Show(ctx context.Context, def *resource.Definition, id string, relations []string) (query.Record, error)
	Store(ctx context.Context, def *resource.Definition, payload any, actor *int64) (*resource.StoreResult, error)
	Update(ctx context.Context, def *resource.Definition, id string, payload any) (*resource.UpdateResult, error)
	Destroy(ctx context.Context, def *resource.Definition, id string) (*resource.DestroyResult, error)
}

type ResourceHandler struct {
	service ResourceService
	logger  log.Logger
}

func NewResourceHandler(service ResourceService, logger log.Logger) *ResourceHandler {
	return &ResourceHandler{service: service, logger: logger}
}

// List serves both GET /<resource> and POST /<resource>/search. Body keys
// override query string keys.
func (h *ResourceHandler) List(def *resource.Definition) gin.HandlerFunc {
	return func(c *gin.Context) {
		input := queryInput(c)
		body, err := jsonBody(c)
		if err != nil {
			failure(c, http.StatusBadRequest, "El cuerpo de la solicitud no es JSON válido.", fieldErrors("body", err.Error()))
			return
		}
		for k, v := range body {
			input[k] = v
		}

		envelope, err := h.service.List(c.Request.Context(), def, input)
		if err != nil {
			h.fail(c, err, "")
			return
		}
		c.JSON(http.StatusOK, envelope)
	}
}

func (h *ResourceHandler) Show(def *resource.Definition) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		relations := query.DecodeListRequest(queryInput(c), query.DefaultPageLimits).Relations

		record, err := h.service.Show(c.Request.Context(), def, id, relations)
		if err != nil {
			h.fail(c, err, id)
			return
		}
		success(c, http.StatusOK, resource.MessageShown, record)
	}
}

func (h *ResourceHandler) Store(def *resource.Definition) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, ok := h.payload(c)
		if !ok {
			return
		}

		var actor *int64
		if id, ok := middleware.GetUserID(c); ok {
			actor = &id
		}

		result, err := h.service.Store(c.Request.Context(), def, data, actor)
		if err != nil {
			h.fail(c, err, "")
			return
		}
		if result.Batch {
			success(c, http.StatusCreated, result.Message, result.Records)
			return
		}
		success(c, http.StatusCreated, result.Message, result.Record)
	}
}

func (h *ResourceHandler) Update(def *resource.Definition) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, ok := h.payload(c)
		if !ok {
			return
		}

		id := c.Param("id")
		result, err := h.service.Update(c.Request.Context(), def, id, data)
		if err != nil {
			h.fail(c, err, id)
			return
		}
		if result.Record == nil {
			success(c, http.StatusOK, result.Message, nil)
			return
		}
		success(c, http.StatusOK, result.Message, result.Record)
	}
}

func (h *ResourceHandler) Destroy(def *resource.Definition) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.service.Destroy(c.Request.Context(), def, c.Param("id"))
		if err != nil {
			if errors.Is(err, resource.ErrNotFound) {
				failure(c, http.StatusNotFound, "El registro a eliminar no existe", nil)
				return
			}
			h.fail(c, err, c.Param("id"))
			return
		}
		success(c, http.StatusOK, result.Message, nil)
	}
}

// payload extracts the "data" member of a write request body.
func (h *ResourceHandler) payload(c *gin.Context) (any, bool) {
	body, err := jsonBody(c)
	if err != nil || body == nil {
		failure(c, http.StatusUnprocessableEntity, resource.MessageInvalidShape, nil)
		return nil, false
	}
	data, ok := body["data"]
	if !ok || data == nil {
		failure(c, http.StatusUnprocessableEntity, resource.MessageInvalidShape, nil)
		return nil, false
	}
	return data, true
}

func (h *ResourceHandler) fail(c *gin.Context, err error, id string) {
	var (
		verrs     *validation.ValidationErrors
		batch     *resource.BatchValidationError
		forbidden *auth.ForbiddenError
	)

	switch {
	case errors.As(err, &verrs):
		failure(c, http.StatusUnprocessableEntity, MessageValidation, verrs.Fields())
	case errors.As(err, &batch):
		failure(c, http.StatusUnprocessableEntity, batch.Error(), batch.Items)
	case errors.Is(err, resource.ErrInvalidPayload):
		failure(c, http.StatusUnprocessableEntity, resource.MessageInvalidShape, nil)
	case errors.Is(err, resource.ErrNotFound):
		failure(c, http.StatusNotFound, fmt.Sprintf("El registro con id %s no existe", id), nil)
	case errors.Is(err, resource.ErrInvalidID):
		failure(c, http.StatusBadRequest, fmt.Sprintf("El valor recibido no es válido %s", id), nil)
	case errors.Is(err, resource.ErrReadOnly):
		failure(c, http.StatusMethodNotAllowed, "El recurso es de solo lectura.", nil)
	case errors.Is(err, auth.ErrUnauthorized):
		failure(c, http.StatusUnauthorized, middleware.MessageUnauthenticated, nil)
	case errors.As(err, &forbidden):
		failure(c, http.StatusForbidden, middleware.MessageForbidden, fieldErrors("authorization", forbidden.Message))
	case errors.Is(err, auth.ErrForbidden):
		failure(c, http.StatusForbidden, middleware.MessageForbidden, nil)
	case postgres.IsUniqueViolation(err):
		failure(c, http.StatusConflict, "Ya existe un registro con los datos proporcionados.", fieldErrors("database", err.Error()))
	default:
		storeError(c, h.logger, err)
	}
}

// queryInput flattens the query string. Repeated keys and keys written as
// name[] become lists.
func queryInput(c *gin.Context) map[string]any {
	input := make(map[string]any)
	for key, values := range c.Request.URL.Query() {
		name := strings.TrimSuffix(key, "[]")
		if len(values) == 1 && name == key {
			input[name] = values[0]
			continue
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		input[name] = list
	}
	return input
}

// jsonBody decodes a JSON object body. An empty body yields nil.
func jsonBody(c *gin.Context) (map[string]any, error) {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil, nil
	}

	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return body, nil
}
