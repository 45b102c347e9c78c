package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/frahmantamala/viso/internal/core/datamodel/access"
	"github.com/frahmantamala/viso/internal/permission"
	"github.com/frahmantamala/viso/internal/roleoverride"
	"gorm.io/gorm"
)

// countable lists the relations Count may be asked about.
var countable = map[string]bool{
	"employees":         true,
	"users":             true,
	"pass_satellites":   true,
	"sites":             true,
	"areas":             true,
	"employee_sites":    true,
	"staff_invitations": true,
}

// RuleRepository reads rules, scope metadata and employees directly from
// the database.
type RuleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

type ruleRow struct {
	AppCode       string
	Code          string
	ScopeType     *string
	ScopeSiteID   *string
	ScopeAreaID   *string
	ScopeSiteType *string
	ScopeAreaKind *string
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *RuleRepository) LoadRoleRules(ctx context.Context, role string) ([]permission.RuleEntry, error) {
	var rows []ruleRow
	err := r.db.WithContext(ctx).
		Table("role_permissions AS rp").
		Select("a.code AS app_code, p.code AS code, rp.scope_type, rp.scope_site_id, rp.scope_area_id, rp.scope_site_type, rp.scope_area_kind").
		Joins("JOIN app_permissions p ON p.id = rp.permission_id").
		Joins("JOIN apps a ON a.id = p.app_id").
		Where("rp.role = ? AND rp.is_allowed = ?", role, true).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load rules for role %q: %w", role, err)
	}

	entries := make([]permission.RuleEntry, 0, len(rows))
	for _, row := range rows {
		if row.AppCode == "" || row.Code == "" {
			continue
		}
		entries = append(entries, permission.RuleEntry{
			Code:          row.AppCode + "." + row.Code,
			ScopeType:     deref(row.ScopeType),
			ScopeSiteID:   deref(row.ScopeSiteID),
			ScopeSiteType: deref(row.ScopeSiteType),
			ScopeAreaID:   deref(row.ScopeAreaID),
			ScopeAreaKind: deref(row.ScopeAreaKind),
		})
	}
	return entries, nil
}

func (r *RuleRepository) SiteType(ctx context.Context, siteID string) (string, error) {
	var site access.Site
	err := r.db.WithContext(ctx).Select("id", "site_type").Where("id = ?", siteID).Take(&site).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return deref(site.SiteType), nil
}

func (r *RuleRepository) AreaKind(ctx context.Context, areaID string) (string, error) {
	var area access.Area
	err := r.db.WithContext(ctx).Select("id", "kind").Where("id = ?", areaID).Take(&area).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return deref(area.Kind), nil
}

func (r *RuleRepository) GetEmployee(ctx context.Context, userID string) (*roleoverride.Employee, error) {
	var emp access.Employee
	err := r.db.WithContext(ctx).Select("id", "role", "site_id").Where("id = ?", userID).Take(&emp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &roleoverride.Employee{Role: emp.Role, SiteID: deref(emp.SiteID)}, nil
}

// Count returns the row count of relation filtered by column equality.
func (r *RuleRepository) Count(ctx context.Context, relation string, eq map[string]string) (int64, error) {
	if !countable[relation] {
		return 0, fmt.Errorf("relation %q cannot be counted", relation)
	}
	where := make(map[string]interface{}, len(eq))
	for column, value := range eq {
		where[column] = value
	}

	var n int64
	q := r.db.WithContext(ctx).Table(relation)
	if len(where) > 0 {
		q = q.Where(where)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", relation, err)
	}
	return n, nil
}
