package guard

import (
	"slices"
	"strings"

	"github.com/dmitrijs2005/gophdine/internal/client/models"
)

// Permission is a named capability, spelled like the backend staff flags.
type Permission string

const (
	ManageOrders       Permission = "can_manage_orders"
	ManageMenu         Permission = "can_manage_menu"
	ManageStaff        Permission = "can_manage_staff"
	ViewReports        Permission = "can_view_reports"
	ManageFinances     Permission = "can_manage_finances"
	ManageReservations Permission = "can_manage_reservations"

	PlaceOrder    Permission = "place_order"
	ViewOwnOrders Permission = "view_own_orders"
)

// RolePermissions maps staff roles to their capabilities. Roles not listed
// (waiter, other) have none.
var RolePermissions = map[string][]Permission{
	"owner":    {ManageOrders, ManageMenu, ManageStaff, ViewReports, ManageFinances, ManageReservations},
	"manager":  {ManageOrders, ManageMenu, ManageStaff, ViewReports, ManageReservations},
	"chef":     {ManageOrders},
	"cashier":  {ManageOrders},
	"delivery": {},
}

var customerPermissions = []Permission{PlaceOrder, ViewOwnOrders}

// HasPermission reports whether u holds p. A permission list sent by the
// server takes precedence over the role table.
func HasPermission(u *models.User, p Permission) bool {
	if u == nil {
		return false
	}
	if u.Permissions != nil {
		return slices.Contains(u.Permissions, string(p))
	}

	switch u.UserType {
	case models.UserTypeOwner, models.UserTypeAdmin:
		return true
	case models.UserTypeStaff:
		return slices.Contains(RolePermissions[strings.ToLower(u.Role)], p)
	default:
		return slices.Contains(customerPermissions, p)
	}
}
