package models

import (
	"strings"
	"time"
)

// Role is the permission level bound to a wallet.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleContributor Role = "contributor"
	RoleViewer      Role = "viewer"
)

// DefaultRole applies to every wallet without an explicit assignment.
const DefaultRole = RoleViewer

// ParseRole validates a role name.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleContributor, RoleViewer:
		return Role(s), true
	}
	return "", false
}

// RoleAssignment binds a wallet to a role. One assignment per wallet; the
// latest write in log order wins.
type RoleAssignment struct {
	Wallet     string    `json:"id"`
	Role       Role      `json:"role"`
	Version    int64     `json:"version"`
	AssignedBy string    `json:"assigned_by,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NormalizeWallet produces the case-insensitive key used for role lookups.
func NormalizeWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}
