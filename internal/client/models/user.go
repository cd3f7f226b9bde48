// Package models defines the account and credential types shared by the
// transport, the session controller and the route guard.
package models

import (
	"encoding/json"
	"strings"
)

// UserType is the account class reported by the API.
type UserType string

const (
	UserTypeCustomer UserType = "customer"
	UserTypeOwner    UserType = "owner"
	UserTypeStaff    UserType = "staff"
	UserTypeAdmin    UserType = "admin"
)

// ParseUserType normalises s; unknown values map to UserTypeCustomer,
// which is what the backend assigns by default.
func ParseUserType(s string) UserType {
	switch UserType(strings.ToLower(strings.TrimSpace(s))) {
	case UserTypeOwner:
		return UserTypeOwner
	case UserTypeStaff:
		return UserTypeStaff
	case UserTypeAdmin:
		return UserTypeAdmin
	default:
		return UserTypeCustomer
	}
}

// VerificationStatus is the e-mail verification state of an account.
// Unknown is kept distinct so that an omitted server field is never
// silently read as either verified or unverified.
type VerificationStatus int

const (
	VerificationUnknown VerificationStatus = iota
	VerificationPending
	VerificationVerified
)

func (v VerificationStatus) String() string {
	switch v {
	case VerificationPending:
		return "unverified"
	case VerificationVerified:
		return "verified"
	default:
		return "unknown"
	}
}

// User is the authenticated identity.
type User struct {
	ID        int64    `json:"id,omitempty"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	UserType  UserType `json:"user_type"`

	// EmailVerified is nil when the server omitted the field.
	EmailVerified *bool `json:"email_verified,omitempty"`

	// Role is the staff role (manager, chef, cashier, delivery) when
	// UserType is staff.
	Role string `json:"role,omitempty"`

	// Permissions, when sent by the server, override the role table.
	Permissions []string `json:"permissions,omitempty"`
}

// UnmarshalJSON normalises user_type.
func (u *User) UnmarshalJSON(b []byte) error {
	type plain User
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	p.UserType = ParseUserType(string(p.UserType))
	*u = User(p)
	return nil
}

// Verification reports the tri-state verification status.
func (u *User) Verification() VerificationStatus {
	if u == nil || u.EmailVerified == nil {
		return VerificationUnknown
	}
	if *u.EmailVerified {
		return VerificationVerified
	}
	return VerificationPending
}

// Clone returns a deep copy, so snapshots handed out by the session never
// alias controller state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.EmailVerified != nil {
		v := *u.EmailVerified
		c.EmailVerified = &v
	}
	if u.Permissions != nil {
		c.Permissions = append([]string(nil), u.Permissions...)
	}
	return &c
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}
