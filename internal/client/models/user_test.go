package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUser_UnmarshalNormalisesType(t *testing.T) {
	var u User
	require.NoError(t, json.Unmarshal([]byte(`{"username":"bob","email":"b@x.io","user_type":"OWNER","email_verified":true}`), &u))

	assert.Equal(t, UserTypeOwner, u.UserType)
	assert.Equal(t, VerificationVerified, u.Verification())
}

func TestUser_Verification(t *testing.T) {
	tests := []struct {
		name string
		user *User
		want VerificationStatus
	}{
		{name: "nil user", user: nil, want: VerificationUnknown},
		{name: "field omitted", user: &User{}, want: VerificationUnknown},
		{name: "false", user: &User{EmailVerified: Bool(false)}, want: VerificationPending},
		{name: "true", user: &User{EmailVerified: Bool(true)}, want: VerificationVerified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.user.Verification())
		})
	}
}

func TestUser_CloneIsDeep(t *testing.T) {
	u := &User{Username: "a", EmailVerified: Bool(false), Permissions: []string{"manage_menu"}}
	c := u.Clone()

	*c.EmailVerified = true
	c.Permissions[0] = "x"

	assert.False(t, *u.EmailVerified)
	assert.Equal(t, "manage_menu", u.Permissions[0])
	assert.Nil(t, (*User)(nil).Clone())
}

func TestParseUserType(t *testing.T) {
	assert.Equal(t, UserTypeStaff, ParseUserType(" staff "))
	assert.Equal(t, UserTypeAdmin, ParseUserType("admin"))
	assert.Equal(t, UserTypeCustomer, ParseUserType("martian"))
}

func TestParsePortal(t *testing.T) {
	tests := []struct {
		in      string
		want    Portal
		wantErr bool
	}{
		{in: "customer", want: PortalCustomer},
		{in: " Owner ", want: PortalOwner},
		{in: "", want: PortalCustomer},
		{in: "kitchen", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePortal(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, UserTypeOwner, PortalOwner.DefaultUserType())
	assert.Equal(t, UserTypeCustomer, PortalCustomer.DefaultUserType())
}
