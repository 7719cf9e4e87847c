package resource

import (
	"github.com/pmr/pmr-api/internal/core/auth"
	"github.com/pmr/pmr-api/internal/core/query"
	"github.com/pmr/pmr-api/internal/core/validation"
)

// Usuarios exposes the users table. hooks hash passwords and manage roles.
func Usuarios(hooks Hooks) *Definition {
	create, update := CreateAndUpdateRules(map[string]*SchemaProperty{
		"name":      stringProp(1, 255),
		"email":     {Type: PropertyTypeString, Format: "email", MaxLength: 255},
		"password":  stringProp(8, 0),
		"rfc":       {Type: PropertyTypeString, Pattern: validation.RFCInputPattern},
		"user_type": enumProp(auth.UserTypeInternal, auth.UserTypeExternal),
		"role":      enumProp(roleNames()...),
	}, "name", "email", "password", "rfc", "user_type", "role")

	return &Definition{
		Resource: query.Resource{
			Name:  "usuarios",
			Table: "users",
			Relations: []query.Relation{{
				Name:            "roles",
				Kind:            query.BelongsToMany,
				Table:           "roles",
				Pivot:           "user_roles",
				PivotOwnerKey:   "user_id",
				PivotRelatedKey: "role_id",
			}},
			ExcludedSearch: []string{"password", "remember_token", "email_verified_at"},
			Hidden:         []string{"password", "remember_token"},
		},
		CreateRules: create,
		UpdateRules: update,
		Ignore:      []string{"email_verified_at", "remember_token"},
		Hooks:       hooks,
		Permissions: Permissions{
			List:   []string{auth.PermUsuariosVer},
			Create: []string{auth.PermUsuariosCrear},
			Delete: []string{auth.PermUsuariosEliminar},
		},
	}
}

func Propuestas() *Definition {
	create, update := CreateAndUpdateRules(map[string]*SchemaProperty{
		"nombre":                       stringProp(1, 0),
		"descripcion":                  stringProp(1, 0),
		"tipo":                         enumProp("Tramite", "Servicio"),
		"tiempo_actual_realizacion":    nullableString(255),
		"tiempo_esperado_realizacion":  nullableString(255),
		"cantidad_actual_requisitos":   nullableString(255),
		"cantidad_esperada_requisitos": nullableString(255),
		"fecha_cumplimiento":           {Type: PropertyTypeString, Nullable: true, Format: "date"},
	}, "nombre", "descripcion")

	return &Definition{
		Resource: query.Resource{
			Name:  "propuestas",
			Table: "propuestas",
			Relations: []query.Relation{{
				Name:       "documentos",
				Kind:       query.HasMany,
				Table:      "propuestas_documentos",
				ForeignKey: "propuesta_id",
			}},
		},
		CreateRules:    create,
		UpdateRules:    update,
		Defaults:       map[string]any{"tipo": "Tramite"},
		InternalWrites: true,
		Permissions:    catalogPermissions(),
	}
}

func PropuestasDocumentos() *Definition {
	create, update := CreateAndUpdateRules(map[string]*SchemaProperty{
		"propuesta_id": {Type: PropertyTypeInteger, Minimum: minimum(1)},
		"nombre":       stringProp(1, 255),
		"ruta":         stringProp(1, 500),
		"metadata":     {Type: PropertyTypeObject, Nullable: true},
	}, "propuesta_id", "nombre", "ruta")

	return &Definition{
		Resource: query.Resource{
			Name:  "propuestas_documentos",
			Table: "propuestas_documentos",
			Relations: []query.Relation{{
				Name:       "propuesta",
				Kind:       query.BelongsTo,
				Table:      "propuestas",
				ForeignKey: "propuesta_id",
			}},
			ExcludedSearch: []string{"ruta"},
		},
		CreateRules:    create,
		UpdateRules:    update,
		InternalWrites: true,
		Permissions:    catalogPermissions(),
	}
}

func UnidadesAdministrativas() *Definition {
	create, update := CreateAndUpdateRules(map[string]*SchemaProperty{
		"nombre": stringProp(1, 255),
	}, "nombre")

	return &Definition{
		Resource: query.Resource{
			Name:  "unidades_administrativas",
			Table: "unidades_administrativas",
		},
		CreateRules:    create,
		UpdateRules:    update,
		InternalWrites: true,
		Permissions:    catalogPermissions(),
	}
}

// DefaultRegistry registers every resource served by the API.
func DefaultRegistry(userHooks Hooks) *Registry {
	return NewRegistry(
		Usuarios(userHooks),
		Propuestas(),
		PropuestasDocumentos(),
		UnidadesAdministrativas(),
	)
}

func catalogPermissions() Permissions {
	return Permissions{
		Create: []string{auth.PermCatalogos},
		Update: []string{auth.PermCatalogos},
		Delete: []string{auth.PermCatalogos},
	}
}

func roleNames() []string {
	names := make([]string, 0, len(auth.DefaultRoles))
	for _, r := range auth.DefaultRoles {
		names = append(names, r.Name)
	}
	return names
}
