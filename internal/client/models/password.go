package models

import (
	"errors"
	"net/url"
	"strings"
)

// PasswordReset completes a reset started by e-mail. UID and Token come from
// the link in the e-mail, /reset-password/<uid>/<token>/.
type PasswordReset struct {
	UID                string `json:"uid"`
	Token              string `json:"token"`
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

// PasswordChange is the signed-in user's change-password form.
type PasswordChange struct {
	OldPassword        string `json:"old_password"`
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

var ErrBadResetLink = errors.New("not a password reset link")

// ParseResetLink extracts uid and token from a full reset link, its path, or
// a bare "uid/token".
func ParseResetLink(link string) (uid, token string, err error) {
	link = strings.TrimSpace(link)
	if u, perr := url.Parse(link); perr == nil && u.Path != "" {
		link = u.Path
	}

	var parts []string
	for _, p := range strings.Split(link, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	for i, p := range parts {
		if p == "reset-password" {
			parts = parts[i+1:]
			break
		}
	}
	if len(parts) != 2 {
		return "", "", ErrBadResetLink
	}
	return parts[0], parts[1], nil
}
