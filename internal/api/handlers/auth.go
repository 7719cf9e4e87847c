package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pmr/pmr-api/internal/api/middleware"
	"github.com/pmr/pmr-api/internal/core/auth"
	"github.com/pmr/pmr-api/internal/log"
)

const (
	messageNoSession     = "No hay usuario autenticado."
	messageInvalidEmail  = "Correo electrónico inválido."
	messageEmailUnknown  = "El correo electrónico no está registrado en nuestro sistema."
	messageBadCredential = "Las credenciales proporcionadas son incorrectas."
)

type AuthHandler struct {
	authService *auth.Service
	logger      log.Logger
}

func NewAuthHandler(authService *auth.Service, logger log.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, logger: logger}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingFailed(c, MessageValidation, err)
		return
	}

	view, err := h.authService.Register(c.Request.Context(), &req, middleware.GetIPAddress(c))
	if err != nil {
		var throttled *auth.ThrottledError
		switch {
		case errors.As(err, &throttled):
			h.throttled(c, "email", throttled, "Demasiados intentos de registro. Por favor, intenta nuevamente en %d segundos.")
		case errors.Is(err, auth.ErrEmailTaken):
			failure(c, http.StatusUnprocessableEntity, MessageValidation,
				fieldErrors("email", "Este correo electrónico ya está registrado"))
		case errors.Is(err, auth.ErrRFCTaken):
			failure(c, http.StatusUnprocessableEntity, MessageValidation,
				fieldErrors("rfc", "Este RFC ya está registrado en nuestro sistema"))
		default:
			internalError(c, h.logger, err)
		}
		return
	}

	success(c, http.StatusCreated, "Usuario registrado exitosamente. Por favor, verifica tu correo electrónico.", gin.H{
		"user":        view.User,
		"roles":       view.Roles,
		"permissions": view.Permissions,
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingFailed(c, MessageValidation, err)
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), &req, middleware.GetIPAddress(c))
	if err != nil {
		var throttled *auth.ThrottledError
		switch {
		case errors.As(err, &throttled):
			h.throttled(c, "rfc", throttled, "Demasiados intentos de login. Por favor, intenta nuevamente en %d segundos.")
		case errors.Is(err, auth.ErrInvalidCredentials):
			failure(c, http.StatusUnauthorized, messageBadCredential, fieldErrors("rfc", messageBadCredential))
		case errors.Is(err, auth.ErrEmailNotVerified):
			failure(c, http.StatusForbidden, "Debes verificar tu correo electrónico antes de iniciar sesión.",
				fieldErrors("email", "El correo electrónico no ha sido verificado."))
		default:
			internalError(c, h.logger, err)
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) throttled(c *gin.Context, field string, err *auth.ThrottledError, format string) {
	msg := fmt.Sprintf(format, err.Seconds())
	retryAfter(c, err.Seconds())
	failure(c, http.StatusTooManyRequests, msg, fieldErrors(field, msg))
}

func (h *AuthHandler) Logout(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		failure(c, http.StatusUnauthorized, messageNoSession, nil)
		return
	}

	if err := h.authService.Logout(c.Request.Context(), principal); err != nil {
		internalError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK, "Sesión cerrada exitosamente.", nil)
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		failure(c, http.StatusUnauthorized, messageNoSession, nil)
		return
	}

	resp, err := h.authService.Refresh(c.Request.Context(), principal)
	if err != nil {
		internalError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) Me(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		failure(c, http.StatusUnauthorized, messageNoSession, nil)
		return
	}

	view, err := h.authService.Me(c.Request.Context(), principal)
	if err != nil {
		internalError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "message": "Usuario autenticado.", "user": view})
}

// Check reports whether the current token is still valid without extending it.
func (h *AuthHandler) Check(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "message": middleware.MessageTokenExpired})
		return
	}

	status, err := h.authService.CheckToken(c.Request.Context(), principal)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "message": "Token no encontrado."})
			return
		}
		internalError(c, h.logger, err)
		return
	}

	code := http.StatusOK
	if !status.Valid {
		code = http.StatusUnauthorized
	}
	c.JSON(code, status)
}

func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req auth.VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingFailed(c, "Token inválido.", err)
		return
	}

	user, err := h.authService.VerifyEmail(c.Request.Context(), req.Token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrVerificationExpired):
			failure(c, http.StatusGone, "El token de verificación ha expirado.",
				fieldErrors("token", "El token ha expirado. Por favor, solicita un nuevo correo de verificación."))
		case errors.Is(err, auth.ErrVerificationUnknown):
			failure(c, http.StatusNotFound, "El token de verificación es inválido o ha expirado.",
				fieldErrors("token", "Token no encontrado o expirado."))
		default:
			internalError(c, h.logger, err)
		}
		return
	}

	success(c, http.StatusOK, "Correo electrónico verificado exitosamente.", gin.H{
		"user":        user,
		"verified_at": user.EmailVerifiedAt.UTC().Format(time.RFC3339),
	})
}

func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req auth.EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingFailed(c, messageInvalidEmail, err)
		return
	}

	v, err := h.authService.ResendVerification(c.Request.Context(), req.Email, middleware.GetIPAddress(c))
	if err != nil {
		var throttled *auth.ThrottledError
		switch {
		case errors.As(err, &throttled):
			h.throttled(c, "email", throttled, "Demasiadas solicitudes de verificación. Por favor, intenta nuevamente en %d segundos.")
		case errors.Is(err, auth.ErrUserNotFound):
			failure(c, http.StatusUnprocessableEntity, messageInvalidEmail, fieldErrors("email", messageEmailUnknown))
		case errors.Is(err, auth.ErrAlreadyVerified):
			failure(c, http.StatusUnprocessableEntity, "Este correo electrónico ya ha sido verificado previamente.",
				fieldErrors("email", "El correo electrónico ya está verificado."))
		default:
			internalError(c, h.logger, err)
		}
		return
	}

	success(c, http.StatusOK, "Se ha enviado un nuevo correo de verificación.", gin.H{
		"expires_at": v.ExpiresAt,
		"email":      req.Email,
	})
}

func (h *AuthHandler) CheckVerification(c *gin.Context) {
	var req auth.EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingFailed(c, messageInvalidEmail, err)
		return
	}

	status, err := h.authService.CheckVerification(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			failure(c, http.StatusUnprocessableEntity, messageInvalidEmail, fieldErrors("email", messageEmailUnknown))
			return
		}
		internalError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK, "Estado de verificación obtenido.", status)
}
