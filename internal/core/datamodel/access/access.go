package access

import "time"

type App struct {
	ID        string    `gorm:"primaryKey;column:id"`
	Code      string    `gorm:"column:code;uniqueIndex;not null"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (App) TableName() string { return "apps" }

type AppPermission struct {
	ID          string    `gorm:"primaryKey;column:id"`
	AppID       string    `gorm:"column:app_id;not null"`
	Code        string    `gorm:"column:code;not null"`
	Description string    `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (AppPermission) TableName() string { return "app_permissions" }

// RolePermission grants a permission to a role under one scope. Rows with
// is_allowed = false are never loaded.
type RolePermission struct {
	ID            string    `gorm:"primaryKey;column:id"`
	Role          string    `gorm:"column:role;index;not null"`
	PermissionID  string    `gorm:"column:permission_id;not null"`
	IsAllowed     bool      `gorm:"column:is_allowed;default:true"`
	ScopeType     *string   `gorm:"column:scope_type"`
	ScopeSiteID   *string   `gorm:"column:scope_site_id"`
	ScopeAreaID   *string   `gorm:"column:scope_area_id"`
	ScopeSiteType *string   `gorm:"column:scope_site_type"`
	ScopeAreaKind *string   `gorm:"column:scope_area_kind"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (RolePermission) TableName() string { return "role_permissions" }

type Site struct {
	ID       string  `gorm:"primaryKey;column:id"`
	Name     string  `gorm:"column:name;not null"`
	SiteType *string `gorm:"column:site_type"`
}

func (Site) TableName() string { return "sites" }

type Area struct {
	ID     string  `gorm:"primaryKey;column:id"`
	SiteID string  `gorm:"column:site_id;not null"`
	Name   string  `gorm:"column:name;not null"`
	Kind   *string `gorm:"column:kind"`
}

func (Area) TableName() string { return "areas" }

// Employee is keyed by the identity provider's user id.
type Employee struct {
	ID       string  `gorm:"primaryKey;column:id"`
	FullName string  `gorm:"column:full_name"`
	Role     string  `gorm:"column:role;not null"`
	SiteID   *string `gorm:"column:site_id"`
	IsActive bool    `gorm:"column:is_active;default:true"`
}

func (Employee) TableName() string { return "employees" }
