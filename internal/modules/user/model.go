// README: System users (dispatchers, vendors, admins) and roles.
package user

import (
	"time"

	"dispatch/internal/modules/carrier"
)

type Role string

const (
	RoleDispatcher Role = "dispatcher"
	RoleVendor     Role = "vendor"
	RoleAdmin      Role = "admin"
)

// SystemUser is an account that can call the API. Vendor accounts link to
// an mvendor row through VencodeRef; Grade is joined from there.
type SystemUser struct {
	ID          int64
	Username    string
	Role        Role
	DisplayName string
	Active      bool
	VencodeRef  *string
	Grade       *carrier.Grade
	FCMToken    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsDispatcher reports whether the user may perform dispatcher actions.
// Admins carry dispatcher powers throughout.
func (u SystemUser) IsDispatcher() bool {
	return u.Role == RoleDispatcher || u.Role == RoleAdmin
}

func (u SystemUser) IsVendor() bool {
	return u.Role == RoleVendor && u.VencodeRef != nil && u.Grade != nil
}
