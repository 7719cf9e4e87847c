package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	UserTypeInternal = "INTERNO"
	UserTypeExternal = "EXTERNO"
)

type User struct {
	ID              int64      `json:"id"`
	RFC             string     `json:"rfc"`
	UserType        string     `json:"user_type"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	EmailVerifiedAt *time.Time `json:"email_verified_at"`
	PasswordHash    string     `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

func (u *User) IsEmailVerified() bool {
	return u.EmailVerifiedAt != nil
}

func (u *User) IsInternal() bool {
	return u.UserType == UserTypeInternal
}

// AccessToken is the server-side record of an issued JWT, keyed by its jti.
type AccessToken struct {
	ID         uuid.UUID  `json:"id"`
	UserID     int64      `json:"user_id"`
	Name       string     `json:"name"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (t *AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

type VerificationToken struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (v *VerificationToken) Expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}

type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	User        *User
	TokenID     uuid.UUID
	Roles       []string
	Permissions []string
}

func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (p *Principal) Can(permission string) bool {
	for _, perm := range p.Permissions {
		if perm == permission {
			return true
		}
	}
	return false
}

// CanAny reports whether the principal holds at least one of permissions.
func (p *Principal) CanAny(permissions ...string) bool {
	for _, perm := range permissions {
		if p.Can(perm) {
			return true
		}
	}
	return false
}

// Request/Response types
type RegisterRequest struct {
	Name                 string `json:"name" binding:"required,max=255"`
	Email                string `json:"email" binding:"required,email,max=255"`
	RFC                  string `json:"rfc" binding:"required,rfc"`
	Password             string `json:"password" binding:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" binding:"required,eqfield=Password"`
}

type LoginRequest struct {
	RFC      string `json:"rfc" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" binding:"required,len=64,hexadecimal"`
}

type EmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type AssignRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UserView is the API shape of a user with its authorization data.
type UserView struct {
	*User
	IsEmailVerified        bool     `json:"is_email_verified"`
	HasPendingVerification bool     `json:"has_pending_verification"`
	PrimaryRole            *string  `json:"primary_role"`
	Roles                  []string `json:"roles"`
	Permissions            []string `json:"permissions"`
}

type AuthResponse struct {
	Message          string    `json:"message"`
	User             *UserView `json:"user"`
	Token            string    `json:"token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInMinutes int       `json:"expires_in_minutes"`
}

type TokenStatus struct {
	Valid            bool      `json:"valid"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInMinutes int       `json:"expires_in_minutes"`
	Message          string    `json:"message"`
}

type VerificationStatus struct {
	Email                  string     `json:"email"`
	IsVerified             bool       `json:"is_verified"`
	HasPendingVerification bool       `json:"has_pending_verification"`
	EmailVerifiedAt        *time.Time `json:"email_verified_at"`
}

type RoleView struct {
	Name             string    `json:"name"`
	DisplayName      string    `json:"display_name"`
	Description      string    `json:"description"`
	PermissionsCount int       `json:"permissions_count"`
	CreatedAt        time.Time `json:"created_at"`
}

type RoleOption struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

type PermissionView struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Module      string `json:"module"`
}

type RoleAssignment struct {
	UserID        int64    `json:"user_id"`
	UserName      string   `json:"user_name"`
	UserEmail     string   `json:"user_email"`
	AssignedRole  string   `json:"assigned_role"`
	PreviousRoles []string `json:"previous_roles"`
	AssignedAt    string   `json:"assigned_at"`
}

// Role names
const (
	RoleAdminSistema = "admin-sistema"
	RoleAdminGeneral = "admin-general"
	RoleUsuarioSEI   = "usuario-sei"
	RoleSolicitante  = "solicitante"
)

// Permission constants
const (
	PermUsuariosVer           = "usuarios.ver.all"
	PermUsuariosCrear         = "usuarios.crear.any"
	PermUsuariosEditarOwn     = "usuarios.editar.own"
	PermUsuariosEditar        = "usuarios.editar.any"
	PermUsuariosEliminar      = "usuarios.eliminar.any"
	PermUsuariosPassword      = "usuarios.password.cambiar"
	PermSolicitudesVer        = "solicitudes.ver.all"
	PermSolicitudesClasificar = "solicitudes.clasificar"
	PermSolicitudesAsignar    = "solicitudes.asignar"
	PermSolicitudesEnProceso  = "solicitudes.en.proceso.ver"
	PermSolicitudesAsignadas  = "solicitudes.asignadas.ver"
	PermSolicitudesAsignarSEI = "solicitudes.asignar.usuarios"
	PermCatalogos             = "catalogos.crud"
	PermAcciones              = "acciones.crud"
	PermComentarios           = "comentarios.crud"
	PermEvidenciasDescargar   = "evidencias.descargar"
	PermEvidenciasVer         = "evidencias.ver"
)

var AllPermissions = []string{
	PermUsuariosVer, PermUsuariosCrear, PermUsuariosEditarOwn, PermUsuariosEditar,
	PermUsuariosEliminar, PermUsuariosPassword,
	PermSolicitudesVer, PermSolicitudesClasificar, PermSolicitudesAsignar,
	PermSolicitudesEnProceso, PermSolicitudesAsignadas, PermSolicitudesAsignarSEI,
	PermCatalogos, PermAcciones, PermComentarios,
	PermEvidenciasDescargar, PermEvidenciasVer,
}

var AdminGeneralPermissions = []string{
	PermUsuariosVer, PermUsuariosCrear, PermUsuariosEditar, PermUsuariosEliminar,
	PermSolicitudesVer, PermSolicitudesClasificar, PermSolicitudesAsignar,
	PermSolicitudesEnProceso, PermSolicitudesAsignarSEI,
	PermCatalogos, PermAcciones, PermComentarios,
	PermEvidenciasDescargar, PermEvidenciasVer,
}

var UsuarioSEIPermissions = []string{
	PermSolicitudesAsignadas, PermSolicitudesClasificar, PermSolicitudesEnProceso,
	PermAcciones, PermComentarios,
	PermEvidenciasDescargar, PermEvidenciasVer,
}

var SolicitantePermissions = []string{
	PermComentarios, PermEvidenciasDescargar, PermEvidenciasVer,
}

// DefaultRoles is the seeded role matrix, in display order.
var DefaultRoles = []Role{
	{Name: RoleAdminSistema, Permissions: AllPermissions},
	{Name: RoleAdminGeneral, Permissions: AdminGeneralPermissions},
	{Name: RoleUsuarioSEI, Permissions: UsuarioSEIPermissions},
	{Name: RoleSolicitante, Permissions: SolicitantePermissions},
}

var roleDisplayNames = map[string]string{
	RoleAdminSistema: "Administrador del Sistema",
	RoleAdminGeneral: "Administrador General",
	RoleUsuarioSEI:   "Usuario SEI",
	RoleSolicitante:  "Solicitante",
}

var roleDescriptions = map[string]string{
	RoleAdminSistema: "Acceso completo al sistema incluyendo gestión de usuarios y configuración crítica",
	RoleAdminGeneral: "Acceso administrativo para gestión de contenido y usuarios (sin configuración crítica)",
	RoleUsuarioSEI:   "Acceso para operaciones diarias de SEI: clasificación, acciones y seguimiento de solicitudes",
	RoleSolicitante:  "Acceso básico para crear y gestionar solicitudes propias",
}

var permissionDisplayNames = map[string]string{
	PermUsuariosVer:           "Ver todos los usuarios",
	PermUsuariosCrear:         "Crear cualquier usuario",
	PermUsuariosEditarOwn:     "Editar su propio usuario",
	PermUsuariosEditar:        "Editar cualquier usuario",
	PermUsuariosEliminar:      "Eliminar cualquier usuario",
	PermUsuariosPassword:      "Cambiar contraseñas",
	PermSolicitudesVer:        "Ver todas las solicitudes",
	PermSolicitudesClasificar: "Clasificar solicitudes",
	PermSolicitudesAsignar:    "Asignar solicitudes",
	PermSolicitudesEnProceso:  "Ver solicitudes en proceso",
	PermSolicitudesAsignadas:  "Ver solicitudes asignadas",
	PermSolicitudesAsignarSEI: "Asignar solicitudes a usuarios SEI",
	PermCatalogos:             "Gestionar catálogos",
	PermAcciones:              "Gestionar acciones",
	PermComentarios:           "Gestionar comentarios",
	PermEvidenciasDescargar:   "Descargar evidencias",
	PermEvidenciasVer:         "Ver evidencias",
}

var permissionDescriptions = map[string]string{
	PermUsuariosVer:           "Permite ver la lista completa de usuarios del sistema",
	PermUsuariosCrear:         "Permite crear nuevos usuarios con cualquier rol",
	PermUsuariosEditarOwn:     "Permite editar los datos del propio usuario",
	PermUsuariosEditar:        "Permite editar datos de cualquier usuario",
	PermUsuariosEliminar:      "Permite eliminar usuarios del sistema",
	PermUsuariosPassword:      "Permite cambiar contraseñas de otros usuarios",
	PermSolicitudesVer:        "Permite ver todas las solicitudes del sistema",
	PermSolicitudesClasificar: "Permite clasificar solicitudes pendientes",
	PermSolicitudesAsignar:    "Permite asignar solicitudes a usuarios",
	PermSolicitudesEnProceso:  "Permite ver solicitudes que están en proceso",
	PermSolicitudesAsignadas:  "Permite ver las solicitudes asignadas al propio usuario",
	PermSolicitudesAsignarSEI: "Permite asignar solicitudes a usuarios SEI",
	PermCatalogos:             "Permite crear, editar, eliminar catálogos del sistema",
	PermAcciones:              "Permite gestionar acciones de solicitudes",
	PermComentarios:           "Permite crear, editar, eliminar comentarios",
	PermEvidenciasDescargar:   "Permite descargar archivos de evidencia",
	PermEvidenciasVer:         "Permite visualizar archivos de evidencia",
}

var permissionModules = []struct{ prefix, module string }{
	{"usuarios.", "Gestión de Usuarios"},
	{"solicitudes.", "Gestión de Solicitudes"},
	{"catalogos.", "Catálogos"},
	{"acciones.", "Acciones"},
	{"comentarios.", "Comentarios"},
	{"evidencias.", "Evidencias"},
}

func RoleDisplayName(name string) string {
	if d, ok := roleDisplayNames[name]; ok {
		return d
	}
	return name
}

func RoleDescription(name string) string {
	if d, ok := roleDescriptions[name]; ok {
		return d
	}
	return "Rol sin descripción definida"
}

func PermissionDisplayName(name string) string {
	if d, ok := permissionDisplayNames[name]; ok {
		return d
	}
	return name
}

func PermissionDescription(name string) string {
	if d, ok := permissionDescriptions[name]; ok {
		return d
	}
	return "Permiso sin descripción definida"
}

func PermissionModule(name string) string {
	for _, m := range permissionModules {
		if strings.HasPrefix(name, m.prefix) {
			return m.module
		}
	}
	return "General"
}

func NewPermissionView(name string) PermissionView {
	return PermissionView{
		Name:        name,
		DisplayName: PermissionDisplayName(name),
		Description: PermissionDescription(name),
		Module:      PermissionModule(name),
	}
}
