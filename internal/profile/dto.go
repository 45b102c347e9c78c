package profile

import "github.com/frahmantamala/viso/internal/roleoverride"

type RoleOverrideResponse struct {
	ActualRole   string              `json:"actual_role"`
	OverrideRole string              `json:"override_role,omitempty"`
	ActingRole   string              `json:"acting_role"`
	CanSwitch    bool                `json:"can_switch"`
	Options      []roleoverride.Role `json:"options,omitempty"`
}

type SetRoleOverrideRequest struct {
	Role string `json:"role"`
}

type PermissionCheckResponse struct {
	Code    string `json:"code"`
	SiteID  string `json:"site_id,omitempty"`
	AreaID  string `json:"area_id,omitempty"`
	Allowed bool   `json:"allowed"`
}
