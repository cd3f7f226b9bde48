package guard

import (
	"sort"
	"strings"

	"github.com/dmitrijs2005/gophdine/internal/client/models"
)

var staffAndOwners = []models.UserType{models.UserTypeOwner, models.UserTypeAdmin, models.UserTypeStaff}

var ownerRoutes = []Route{
	{Name: "login", Path: "/login", AnonymousOnly: true},
	{Name: "register", Path: "/register", AnonymousOnly: true},
	{Name: "verify-email", Path: "/verify-email"},
	{Name: "unauthorized", Path: "/unauthorized"},
	{Name: "owner-dashboard", Path: "/owner/dashboard", RequiresAuth: true, RequiresVerified: true,
		UserTypes: []models.UserType{models.UserTypeOwner, models.UserTypeAdmin}},
	{Name: "staff-dashboard", Path: "/staff/dashboard", RequiresAuth: true, RequiresVerified: true,
		UserTypes: staffAndOwners},
	{Name: "menu", Path: "/owner/menu", RequiresAuth: true, RequiresVerified: true,
		UserTypes: staffAndOwners, Permission: ManageMenu},
	{Name: "orders", Path: "/owner/orders", RequiresAuth: true, RequiresVerified: true,
		UserTypes: staffAndOwners, Permission: ManageOrders},
	{Name: "reports", Path: "/owner/reports", RequiresAuth: true, RequiresVerified: true,
		UserTypes: staffAndOwners, Permission: ViewReports},
	{Name: "staff", Path: "/owner/staff", RequiresAuth: true, RequiresVerified: true,
		UserTypes: staffAndOwners, Permission: ManageStaff},
}

var customerRoutes = []Route{
	{Name: "home", Path: "/"},
	{Name: "login", Path: "/login", AnonymousOnly: true},
	{Name: "register", Path: "/register", AnonymousOnly: true},
	{Name: "verify-email", Path: "/verify-email"},
	{Name: "unauthorized", Path: "/unauthorized"},
	{Name: "menu", Path: "/menu"},
	{Name: "cart", Path: "/cart"},
	{Name: "checkout", Path: "/checkout", RequiresAuth: true, RequiresVerified: true, Permission: PlaceOrder},
	{Name: "orders", Path: "/orders", RequiresAuth: true, Permission: ViewOwnOrders},
	{Name: "profile", Path: "/profile", RequiresAuth: true},
}

// DefaultRoutes returns the route table of a front-end.
func DefaultRoutes(p models.Portal) []Route {
	src := customerRoutes
	if p == models.PortalOwner {
		src = ownerRoutes
	}
	out := make([]Route, len(src))
	copy(out, src)
	return out
}

// Lookup finds a route by name or path. Unknown paths are returned as
// unguarded routes.
func Lookup(p models.Portal, nameOrPath string) (Route, bool) {
	key := strings.TrimSpace(nameOrPath)
	for _, r := range DefaultRoutes(p) {
		if r.Name == key || r.Path == key {
			return r, true
		}
	}
	return Route{Name: key, Path: key}, false
}

// RouteNames lists the route names of a front-end, sorted.
func RouteNames(p models.Portal) []string {
	routes := DefaultRoutes(p)
	names := make([]string, 0, len(routes))
	for _, r := range routes {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}
