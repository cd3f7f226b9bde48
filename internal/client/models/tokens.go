package models

// Tokens is the credential pair issued on login.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Valid reports whether an access token is present.
func (t *Tokens) Valid() bool {
	return t != nil && t.Access != ""
}

// RegistrationProfile is the sign-up form.
type RegistrationProfile struct {
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	Password2 string   `json:"password2,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Phone     string   `json:"phone_number,omitempty"`
	UserType  UserType `json:"user_type,omitempty"`
}
