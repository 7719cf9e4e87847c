package auth

import (
	"context"
	"database/sql"
)

func (s *Service) ListRoles(ctx context.Context) ([]RoleView, error) {
	roles, err := s.store.GetRoles(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]RoleView, 0, len(roles))
	for _, r := range roles {
		views = append(views, RoleView{
			Name:             r.Name,
			DisplayName:      RoleDisplayName(r.Name),
			Description:      RoleDescription(r.Name),
			PermissionsCount: len(r.Permissions),
			CreatedAt:        r.CreatedAt,
		})
	}
	return views, nil
}

// AvailableRoles is the lightweight listing used by role pickers.
func (s *Service) AvailableRoles(ctx context.Context) ([]RoleOption, error) {
	roles, err := s.store.GetRoles(ctx)
	if err != nil {
		return nil, err
	}
	options := make([]RoleOption, 0, len(roles))
	for _, r := range roles {
		options = append(options, roleOption(r.Name))
	}
	return options, nil
}

func roleOption(name string) RoleOption {
	return RoleOption{Value: name, Label: RoleDisplayName(name), Description: RoleDescription(name)}
}

type RolePermissions struct {
	Role        RoleOption       `json:"role"`
	Permissions []PermissionView `json:"permissions"`
}

func (s *Service) RolePermissions(ctx context.Context, name string) (*RolePermissions, error) {
	role, err := s.store.GetRoleByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, ErrRoleNotFound
	}

	out := &RolePermissions{Role: roleOption(role.Name), Permissions: make([]PermissionView, 0, len(role.Permissions))}
	for _, p := range role.Permissions {
		out.Permissions = append(out.Permissions, NewPermissionView(p))
	}
	return out, nil
}

// AssignRole replaces the roles of userID with role. Only system
// administrators may assign roles, and they cannot drop their own.
func (s *Service) AssignRole(ctx context.Context, actor *Principal, userID int64, role string) (*RoleAssignment, error) {
	r, err := s.store.GetRoleByName(ctx, role)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRoleNotFound
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if !actor.HasRole(RoleAdminSistema) {
		return nil, &ForbiddenError{Message: "Solo los administradores del sistema pueden asignar roles"}
	}
	if actor.User.ID == user.ID && role != RoleAdminSistema {
		return nil, ErrSelfDemotion
	}

	previous, err := s.store.GetUserRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		return s.store.SyncUserRoles(ctx, tx, user.ID, []string{role})
	})
	if err != nil {
		return nil, err
	}

	return &RoleAssignment{
		UserID:        user.ID,
		UserName:      user.Name,
		UserEmail:     user.Email,
		AssignedRole:  role,
		PreviousRoles: previous,
		AssignedAt:    s.now().Format("2006-01-02 15:04:05"),
	}, nil
}

type UserRoles struct {
	User  UserSummary  `json:"user"`
	Roles []RoleOption `json:"roles"`
}

type UserSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (s *Service) UserRoles(ctx context.Context, userID int64) (*UserRoles, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	names, err := s.store.GetUserRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	out := &UserRoles{
		User:  UserSummary{ID: user.ID, Name: user.Name, Email: user.Email},
		Roles: make([]RoleOption, 0, len(names)),
	}
	for _, n := range names {
		out.Roles = append(out.Roles, roleOption(n))
	}
	return out, nil
}
