package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pmr/pmr-api/internal/api/middleware"
	"github.com/pmr/pmr-api/internal/core/auth"
	"github.com/pmr/pmr-api/internal/log"
)

type RoleHandler struct {
	authService *auth.Service
	logger      log.Logger
}

func NewRoleHandler(authService *auth.Service, logger log.Logger) *RoleHandler {
	return &RoleHandler{authService: authService, logger: logger}
}

func (h *RoleHandler) List(c *gin.Context) {
	roles, err := h.authService.ListRoles(c.Request.Context())
	if err != nil {
		internalError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK, "Roles obtenidos exitosamente", roles)
}

func (h *RoleHandler) Available(c *gin.Context) {
	roles, err := h.authService.AvailableRoles(c.Request.Context())
	if err != nil {
		internalError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK, "Roles disponibles obtenidos exitosamente", roles)
}

func (h *RoleHandler) Permissions(c *gin.Context) {
	perms, err := h.authService.RolePermissions(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, auth.ErrRoleNotFound) {
			failure(c, http.StatusNotFound, "Rol no encontrado", fieldErrors("role", "El rol especificado no existe"))
			return
		}
		internalError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK, "Permisos del rol obtenidos exitosamente", perms)
}

func (h *RoleHandler) Assign(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		failure(c, http.StatusUnauthorized, middleware.MessageUnauthenticated, nil)
		return
	}

	var req auth.AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingFailed(c, MessageValidation, err)
		return
	}

	assignment, err := h.authService.AssignRole(c.Request.Context(), principal, userID, req.Role)
	if err != nil {
		var forbidden *auth.ForbiddenError
		switch {
		case errors.Is(err, auth.ErrRoleNotFound):
			failure(c, http.StatusUnprocessableEntity, MessageValidation, fieldErrors("role", "El rol seleccionado no es válido."))
		case errors.Is(err, auth.ErrUserNotFound):
			failure(c, http.StatusNotFound, "Usuario no encontrado", fieldErrors("user", "El usuario especificado no existe"))
		case errors.As(err, &forbidden):
			failure(c, http.StatusForbidden, "Acceso denegado", fieldErrors("authorization", forbidden.Message))
		case errors.Is(err, auth.ErrSelfDemotion):
			failure(c, http.StatusForbidden, "Operación no permitida",
				fieldErrors("self_modification", "No puedes modificar tu propio rol de administrador del sistema"))
		default:
			internalError(c, h.logger, err)
		}
		return
	}
	success(c, http.StatusOK, "Rol asignado exitosamente", assignment)
}

func (h *RoleHandler) UserRoles(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	roles, err := h.authService.UserRoles(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			failure(c, http.StatusNotFound, "Usuario no encontrado", fieldErrors("user", "El usuario especificado no existe"))
			return
		}
		internalError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK, "Roles del usuario obtenidos exitosamente", roles)
}

func parseUserID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		failure(c, http.StatusNotFound, "Usuario no encontrado", fieldErrors("user", "El usuario especificado no existe"))
		return 0, false
	}
	return id, true
}
