// Package permission evaluates a role's scoped permission rules.
//
// Rules are loaded per role from the role_permissions relation (allowed rows
// only). A role holds a permission code when at least one rule for that code
// matches the caller's scope context; no matching rule means denied.
package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	ScopeGlobal   = "global"
	ScopeSite     = "site"
	ScopeSiteType = "site_type"
	ScopeArea     = "area"
	ScopeAreaKind = "area_kind"
)

var ErrFetchFailed = errors.New("permission rules could not be loaded")

// RuleEntry is one allowed (role, code, scope) row. Empty strings stand for
// absent values.
type RuleEntry struct {
	Code          string `json:"code"`
	ScopeType     string `json:"scope_type,omitempty"`
	ScopeSiteID   string `json:"scope_site_id,omitempty"`
	ScopeSiteType string `json:"scope_site_type,omitempty"`
	ScopeAreaID   string `json:"scope_area_id,omitempty"`
	ScopeAreaKind string `json:"scope_area_kind,omitempty"`
}

// Context is the request-scoped site/area a check is made for. Both are
// optional.
type Context struct {
	SiteID string
	AreaID string
}

// Metadata holds the categorical attributes of the context's site and area.
type Metadata struct {
	SiteType string
	AreaKind string
}

// RuleSource is the store the evaluator reads rules and scope metadata from.
type RuleSource interface {
	// LoadRoleRules returns the allowed rules of role with fully qualified
	// codes (<app>.<action>).
	LoadRoleRules(ctx context.Context, role string) ([]RuleEntry, error)
	SiteType(ctx context.Context, siteID string) (string, error)
	AreaKind(ctx context.Context, areaID string) (string, error)
}

// Checker is the coarse per-session permission RPC (has_permission).
type Checker interface {
	HasPermission(ctx context.Context, code string, sc Context) (bool, error)
}

// NormalizeCode prefixes code with "<appID>." unless it already is.
func NormalizeCode(appID, code string) string {
	prefix := appID + "."
	if strings.HasPrefix(code, prefix) {
		return code
	}
	return prefix + code
}

// NormalizeCodes normalizes codes, dropping empty ones and keeping order.
func NormalizeCodes(appID string, codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		if code == "" {
			continue
		}
		out = append(out, NormalizeCode(appID, code))
	}
	return out
}

// ParseContext validates optional site and area identifiers.
func ParseContext(siteID, areaID string) (Context, error) {
	sc := Context{SiteID: strings.TrimSpace(siteID), AreaID: strings.TrimSpace(areaID)}
	if sc.SiteID != "" {
		if _, err := uuid.Parse(sc.SiteID); err != nil {
			return Context{}, fmt.Errorf("invalid site_id: %w", err)
		}
	}
	if sc.AreaID != "" {
		if _, err := uuid.Parse(sc.AreaID); err != nil {
			return Context{}, fmt.Errorf("invalid area_id: %w", err)
		}
	}
	return sc, nil
}

// Check calls the session's has_permission RPC for code. Errors deny.
func Check(ctx context.Context, checker Checker, appID, code string, sc Context) bool {
	ok, err := checker.HasPermission(ctx, NormalizeCode(appID, code), sc)
	if err != nil {
		return false
	}
	return ok
}

// Matches reports whether entry applies to sc given the resolved metadata.
// Unknown scope types never match.
func Matches(entry RuleEntry, sc Context, meta Metadata) bool {
	switch entry.ScopeType {
	case "", ScopeGlobal:
		return true
	case ScopeSite:
		if sc.SiteID == "" {
			return false
		}
		return entry.ScopeSiteID == "" || entry.ScopeSiteID == sc.SiteID
	case ScopeSiteType:
		if sc.SiteID == "" || meta.SiteType == "" {
			return false
		}
		return entry.ScopeSiteType == "" || entry.ScopeSiteType == meta.SiteType
	case ScopeArea:
		if sc.AreaID == "" {
			return false
		}
		return entry.ScopeAreaID == "" || entry.ScopeAreaID == sc.AreaID
	case ScopeAreaKind:
		if sc.AreaID == "" || meta.AreaKind == "" {
			return false
		}
		return entry.ScopeAreaKind == "" || entry.ScopeAreaKind == meta.AreaKind
	default:
		return false
	}
}
