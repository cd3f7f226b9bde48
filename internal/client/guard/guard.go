// Package guard decides whether a navigation target may be shown for a
// session snapshot. Decide is a pure function: no network, no clock, no
// shared state.
package guard

import (
	"net/url"
	"slices"

	"github.com/dmitrijs2005/gophdine/internal/client/models"
	"github.com/dmitrijs2005/gophdine/internal/client/session"
)

// Action is what the caller should do with the navigation.
type Action int

const (
	// Wait means the session is still hydrating; show a neutral state.
	Wait Action = iota
	Allow
	Redirect
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	default:
		return "wait"
	}
}

// Route is the guard metadata of a navigation target.
type Route struct {
	Name string
	Path string

	// AnonymousOnly routes (login, register) bounce fully signed-in users home.
	AnonymousOnly    bool
	RequiresAuth     bool
	RequiresVerified bool
	// UserTypes, when set, restricts the route to these account types.
	UserTypes  []models.UserType
	Permission Permission
}

// Paths are the redirect targets of a front-end.
type Paths struct {
	Login        string
	Verify       string
	Unauthorized string
	OwnerHome    string
	StaffHome    string
	CustomerHome string
}

// DefaultPaths are the redirect targets shared by both front-ends.
func DefaultPaths() Paths {
	return Paths{
		Login:        "/login",
		Verify:       "/verify-email",
		Unauthorized: "/unauthorized",
		OwnerHome:    "/owner/dashboard",
		StaffHome:    "/staff/dashboard",
		CustomerHome: "/",
	}
}

// Home is the landing page for u.
func (p Paths) Home(u *models.User) string {
	if u == nil {
		return p.CustomerHome
	}
	switch u.UserType {
	case models.UserTypeOwner, models.UserTypeAdmin:
		return p.OwnerHome
	case models.UserTypeStaff:
		return p.StaffHome
	default:
		return p.CustomerHome
	}
}

// Rule names the guard rule that produced a decision.
type Rule string

const (
	RuleLoading             Rule = "loading"
	RuleAnonymousOnly       Rule = "anonymous-only"
	RulePendingVerification Rule = "pending-verification"
	RuleUnverified          Rule = "unverified"
	RuleAuthRequired        Rule = "auth-required"
	RuleUserType            Rule = "user-type"
	RulePermission          Rule = "permission"
	RuleAllow               Rule = "allow"
)

// Decision is the outcome for one navigation.
type Decision struct {
	Action Action
	// Target is the redirect destination, including the return path for
	// login redirects.
	Target string
	// ReturnTo is the originally requested path, set on login redirects.
	ReturnTo string
	Rule     Rule
}

func redirect(target string, rule Rule) Decision {
	return Decision{Action: Redirect, Target: target, Rule: rule}
}

// Decide applies the guard rules in order; the first match wins. A user
// whose verification status is unknown counts as unverified.
func Decide(s session.State, r Route, p Paths) Decision {
	verified := s.Authenticated && s.Verification() == models.VerificationVerified

	switch {
	case s.Loading:
		return Decision{Action: Wait, Rule: RuleLoading}

	case r.AnonymousOnly && verified:
		return redirect(p.Home(s.User), RuleAnonymousOnly)

	case s.VerificationPending() && r.Path != p.Verify:
		return redirect(p.Verify, RulePendingVerification)

	case s.Authenticated && !verified && r.RequiresVerified:
		return redirect(p.Verify, RuleUnverified)

	case r.RequiresAuth && !s.Authenticated:
		d := redirect(p.Login, RuleAuthRequired)
		if r.Path != "" {
			d.ReturnTo = r.Path
			d.Target = p.Login + "?" + url.Values{"next": {r.Path}}.Encode()
		}
		return d

	case len(r.UserTypes) > 0 && (s.User == nil || !slices.Contains(r.UserTypes, s.User.UserType)):
		return redirect(p.Unauthorized, RuleUserType)

	case r.Permission != "" && !HasPermission(s.User, r.Permission):
		return redirect(p.Unauthorized, RulePermission)
	}

	return Decision{Action: Allow, Rule: RuleAllow}
}
