package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pmr/pmr-api/internal/api/handlers"
	"github.com/pmr/pmr-api/internal/api/middleware"
	"github.com/pmr/pmr-api/internal/core/auth"
	"github.com/pmr/pmr-api/internal/core/resource"
	"github.com/pmr/pmr-api/internal/log"
	"github.com/pmr/pmr-api/internal/metrics"
)

type Router struct {
	engine          *gin.Engine
	logger          log.Logger
	metrics         *metrics.MetricsCollection
	registry        *resource.Registry
	authMiddleware  *middleware.AuthMiddleware
	authHandler     *handlers.AuthHandler
	roleHandler     *handlers.RoleHandler
	resourceHandler *handlers.ResourceHandler
}

func NewRouter(
	authenticator middleware.Authenticator,
	registry *resource.Registry,
	authHandler *handlers.AuthHandler,
	roleHandler *handlers.RoleHandler,
	resourceHandler *handlers.ResourceHandler,
	logger log.Logger,
	m *metrics.MetricsCollection,
) *Router {
	return &Router{
		logger:          logger,
		metrics:         m,
		registry:        registry,
		authMiddleware:  middleware.NewAuthMiddleware(authenticator),
		authHandler:     authHandler,
		roleHandler:     roleHandler,
		resourceHandler: resourceHandler,
	}
}

func (r *Router) Setup(mode string) *gin.Engine {
	gin.SetMode(mode)
	r.engine = gin.New()
	r.engine.Use(middleware.RequestMeta())
	r.engine.Use(middleware.AccessLog(r.logger))
	r.engine.Use(middleware.Recovery(r.logger))
	if r.metrics != nil {
		r.engine.Use(middleware.Metrics(r.metrics))
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"status": false, "message": "Recurso no encontrado"})
	})

	r.setupRoutes()
	return r.engine
}

func (r *Router) setupRoutes() {
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.engine.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Auth routes (public)
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", r.authHandler.Register)
		authRoutes.POST("/login", r.authHandler.Login)
		authRoutes.POST("/verify-email", r.authHandler.VerifyEmail)
		authRoutes.POST("/resend-verification", r.authHandler.ResendVerification)
		authRoutes.POST("/check-verification", r.authHandler.CheckVerification)
	}

	// Protected routes
	protected := api.Group("")
	protected.Use(r.authMiddleware.Authenticate())
	{
		session := protected.Group("/auth")
		session.POST("/logout", r.authHandler.Logout)
		session.POST("/refresh", r.authHandler.Refresh)
		session.GET("/me", r.authHandler.Me)
		session.GET("/check", r.authHandler.Check)

		// Role management
		roles := protected.Group("/roles")
		roles.Use(r.authMiddleware.RequirePermission(auth.PermUsuariosEditar))
		{
			roles.GET("", r.roleHandler.List)
			roles.GET("/available", r.roleHandler.Available)
			roles.GET("/:name/permissions", r.roleHandler.Permissions)
		}

		for _, def := range r.registry.All() {
			r.resourceRoutes(protected, def)
		}

		// Role assignment, next to the usuarios resource
		userRoles := protected.Group("/usuarios/:id")
		userRoles.Use(r.authMiddleware.RequirePermission(auth.PermUsuariosEditar))
		{
			userRoles.POST("/assign-role", r.roleHandler.Assign)
			userRoles.GET("/roles", r.roleHandler.UserRoles)
		}
	}
}

// resourceRoutes mounts the generic CRUD endpoints of def under /api/<path>.
func (r *Router) resourceRoutes(protected *gin.RouterGroup, def *resource.Definition) {
	h := r.resourceHandler
	g := protected.Group("/" + def.Path())
	perms := def.Permissions

	g.GET("", r.authMiddleware.RequirePermission(perms.List...), h.List(def))
	g.POST("/search", r.authMiddleware.RequirePermission(perms.List...), h.List(def))
	g.GET("/:id", r.authMiddleware.RequirePermission(perms.Show...), h.Show(def))

	if def.ReadOnly {
		return
	}

	writes := g.Group("")
	if def.InternalWrites {
		writes.Use(r.authMiddleware.RequireInternalUser())
	}
	writes.POST("", r.authMiddleware.RequirePermission(perms.Create...), h.Store(def))
	writes.PUT("/:id", r.authMiddleware.RequirePermission(perms.Update...), h.Update(def))
	writes.PATCH("/:id", r.authMiddleware.RequirePermission(perms.Update...), h.Update(def))
	writes.DELETE("/:id", r.authMiddleware.RequirePermission(perms.Delete...), h.Destroy(def))
}
