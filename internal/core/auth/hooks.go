package auth

import (
	"context"
	"database/sql"

	"github.com/spf13/cast"

	"github.com/pmr/pmr-api/internal/core/query"
)

// UserHooks plug user-specific rules into the generic usuarios resource:
// password hashing, role assignment and update authorization.
type UserHooks struct {
	store Store
}

func NewUserHooks(store Store) *UserHooks {
	return &UserHooks{store: store}
}

func (h *UserHooks) BeforeWrite(_ context.Context, data map[string]any, _ bool) (map[string]any, error) {
	delete(data, "role")
	delete(data, "password_confirmation")

	if password, ok := data["password"].(string); ok {
		hash, err := HashPassword(password)
		if err != nil {
			return nil, err
		}
		data["password"] = hash
	}
	if rfc, ok := data["rfc"].(string); ok {
		data["rfc"] = NormalizeRFC(rfc)
	}
	return data, nil
}

// AfterCreate assigns the requested role, solicitante when none was given.
func (h *UserHooks) AfterCreate(ctx context.Context, tx *sql.Tx, record query.Record, input map[string]any) error {
	role, _ := input["role"].(string)
	if role == "" {
		role = RoleSolicitante
	}
	id, err := cast.ToInt64E(record["id"])
	if err != nil {
		return err
	}
	return h.store.SyncUserRoles(ctx, tx, id, []string{role})
}

// AuthorizeUpdate lets users edit themselves and requires usuarios.editar.any
// for anyone else. System administrators can only be edited by their peers,
// changing another user's password needs usuarios.password.cambiar and role
// changes are reserved to system administrators.
func (h *UserHooks) AuthorizeUpdate(ctx context.Context, current query.Record, changes map[string]any) error {
	actor := PrincipalFromContext(ctx)
	if actor == nil {
		return ErrUnauthorized
	}
	id, err := cast.ToInt64E(current["id"])
	if err != nil {
		return err
	}

	self := actor.User.ID == id
	if !self && !actor.Can(PermUsuariosEditar) {
		return &ForbiddenError{Message: "No tienes permiso para modificar otros usuarios. Permiso requerido: " + PermUsuariosEditar}
	}

	roles, err := h.store.GetUserRoles(ctx, id)
	if err != nil {
		return err
	}
	for _, r := range roles {
		if r == RoleAdminSistema && !actor.HasRole(RoleAdminSistema) {
			return &ForbiddenError{Message: "No se permite modificar la información del usuario administrador del sistema"}
		}
	}

	if _, ok := changes["password"]; ok && !self && !actor.Can(PermUsuariosPassword) {
		return &ForbiddenError{Message: "No se permite modificar la contraseña de otro usuario. Permiso requerido: " + PermUsuariosPassword}
	}
	if _, ok := changes["role"]; ok && !actor.HasRole(RoleAdminSistema) {
		return &ForbiddenError{Message: "Solo los administradores del sistema pueden asignar roles"}
	}
	return nil
}

// AfterUpdate replaces the user's roles when a role was supplied.
func (h *UserHooks) AfterUpdate(ctx context.Context, tx *sql.Tx, record query.Record, input map[string]any) error {
	role, _ := input["role"].(string)
	if role == "" {
		return nil
	}
	id, err := cast.ToInt64E(record["id"])
	if err != nil {
		return err
	}
	return h.store.SyncUserRoles(ctx, tx, id, []string{role})
}
