package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/frahmantamala/viso/internal/permission"
	"github.com/frahmantamala/viso/internal/roleoverride"
)

const rolePermissionSelect = "scope_type,scope_site_id,scope_area_id,scope_site_type,scope_area_kind," +
	"permission:app_permissions(code,app:apps(code))"

// bearer is the session's access token, or the public key without a session.
func (c *Client) bearer(ctx context.Context) (string, error) {
	s, err := c.Session(ctx)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", nil
	}
	return s.AccessToken, nil
}

func (c *Client) get(ctx context.Context, op, relation string, query url.Values, v any) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}
	req, err := c.t.newRequest(ctx, http.MethodGet, "/rest/v1/"+relation, query, nil, token)
	if err != nil {
		return err
	}
	resp, err := c.t.do(op, req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return decodeRESTError(resp)
	}
	return decodeJSON(resp, v)
}

func nullable(id string) any {
	if id == "" {
		return nil
	}
	return id
}

// HasPermission calls the has_permission RPC with the session's token.
func (c *Client) HasPermission(ctx context.Context, code string, sc permission.Context) (bool, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return false, err
	}
	body := map[string]any{
		"p_permission_code": code,
		"p_site_id":         nullable(sc.SiteID),
		"p_area_id":         nullable(sc.AreaID),
	}
	req, err := c.t.newRequest(ctx, http.MethodPost, "/rest/v1/rpc/has_permission", nil, body, token)
	if err != nil {
		return false, err
	}
	resp, err := c.t.do("has_permission", req)
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		return false, decodeRESTError(resp)
	}

	var allowed *bool
	if err := decodeJSON(resp, &allowed); err != nil {
		return false, err
	}
	return allowed != nil && *allowed, nil
}

type rolePermissionRow struct {
	ScopeType     *string `json:"scope_type"`
	ScopeSiteID   *string `json:"scope_site_id"`
	ScopeAreaID   *string `json:"scope_area_id"`
	ScopeSiteType *string `json:"scope_site_type"`
	ScopeAreaKind *string `json:"scope_area_kind"`
	Permission    *struct {
		Code *string `json:"code"`
		App  *struct {
			Code *string `json:"code"`
		} `json:"app"`
	} `json:"permission"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (row rolePermissionRow) entry() (permission.RuleEntry, bool) {
	if row.Permission == nil || row.Permission.App == nil {
		return permission.RuleEntry{}, false
	}
	appCode, code := deref(row.Permission.App.Code), deref(row.Permission.Code)
	if appCode == "" || code == "" {
		return permission.RuleEntry{}, false
	}
	return permission.RuleEntry{
		Code:          appCode + "." + code,
		ScopeType:     deref(row.ScopeType),
		ScopeSiteID:   deref(row.ScopeSiteID),
		ScopeSiteType: deref(row.ScopeSiteType),
		ScopeAreaID:   deref(row.ScopeAreaID),
		ScopeAreaKind: deref(row.ScopeAreaKind),
	}, true
}

// LoadRoleRules reads the allowed role_permissions rows of role.
func (c *Client) LoadRoleRules(ctx context.Context, role string) ([]permission.RuleEntry, error) {
	query := url.Values{
		"select":     {rolePermissionSelect},
		"role":       {"eq." + role},
		"is_allowed": {"eq.true"},
	}
	var rows []rolePermissionRow
	if err := c.get(ctx, "role_permissions", "role_permissions", query, &rows); err != nil {
		return nil, err
	}

	entries := make([]permission.RuleEntry, 0, len(rows))
	for _, row := range rows {
		if e, ok := row.entry(); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (c *Client) singleColumn(ctx context.Context, relation, column, id string) (string, error) {
	query := url.Values{
		"select": {column},
		"id":     {"eq." + id},
		"limit":  {"1"},
	}
	var rows []map[string]*string
	if err := c.get(ctx, relation+"_"+column, relation, query, &rows); err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return deref(rows[0][column]), nil
}

func (c *Client) SiteType(ctx context.Context, siteID string) (string, error) {
	return c.singleColumn(ctx, "sites", "site_type", siteID)
}

func (c *Client) AreaKind(ctx context.Context, areaID string) (string, error) {
	return c.singleColumn(ctx, "areas", "kind", areaID)
}

// GetEmployee returns the employee row of userID, or nil when there is none.
func (c *Client) GetEmployee(ctx context.Context, userID string) (*roleoverride.Employee, error) {
	query := url.Values{
		"select": {"role,site_id"},
		"id":     {"eq." + userID},
		"limit":  {"1"},
	}
	var rows []struct {
		Role   *string `json:"role"`
		SiteID *string `json:"site_id"`
	}
	if err := c.get(ctx, "employees", "employees", query, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &roleoverride.Employee{Role: deref(rows[0].Role), SiteID: deref(rows[0].SiteID)}, nil
}

// Count returns the exact row count of relation filtered by column equality.
func (c *Client) Count(ctx context.Context, relation string, eq map[string]string) (int64, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return 0, err
	}

	query := url.Values{"select": {"id"}}
	columns := make([]string, 0, len(eq))
	for column := range eq {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	for _, column := range columns {
		query.Set(column, "eq."+eq[column])
	}

	req, err := c.t.newRequest(ctx, http.MethodHead, "/rest/v1/"+relation, query, nil, token)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Prefer", "count=exact")
	resp, err := c.t.do("count", req)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, decodeRESTError(resp)
	}
	resp.Body.Close()
	return parseContentRange(resp.Header.Get("Content-Range"))
}

// parseContentRange reads the total from "0-24/3573" or "*/0".
func parseContentRange(header string) (int64, error) {
	i := strings.LastIndex(header, "/")
	if i < 0 {
		return 0, fmt.Errorf("content-range %q has no total", header)
	}
	total := header[i+1:]
	if total == "*" {
		return 0, fmt.Errorf("content-range %q has no exact total", header)
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("content-range %q: %w", header, err)
	}
	return n, nil
}
