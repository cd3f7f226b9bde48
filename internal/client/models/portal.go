package models

import (
	"fmt"
	"strings"
)

// Portal selects which front-end's endpoints the client talks to.
type Portal string

const (
	// PortalCustomer is the storefront.
	PortalCustomer Portal = "customer"
	// PortalOwner is the owner/admin portal.
	PortalOwner Portal = "owner"
)

func ParsePortal(s string) (Portal, error) {
	switch p := Portal(strings.ToLower(strings.TrimSpace(s))); p {
	case PortalCustomer, PortalOwner:
		return p, nil
	case "":
		return PortalCustomer, nil
	default:
		return "", fmt.Errorf("unknown portal %q", s)
	}
}

// DefaultUserType is the account type created by the portal's sign-up.
func (p Portal) DefaultUserType() UserType {
	if p == PortalOwner {
		return UserTypeOwner
	}
	return UserTypeCustomer
}
