package mockapi

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
)

const minPasswordLength = 8

// PasswordResetLink returns the link the last reset e-mail for email
// carried, or "" when none is outstanding.
func (s *Server) PasswordResetLink(email string) string {
	a := s.accounts.find(email)
	if a == nil || a.resetToken == "" {
		return ""
	}
	return "/reset-password/" + resetUID(a.ID) + "/" + a.resetToken + "/"
}

func resetUID(id int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
}

func parseResetUID(uid string) (int64, bool) {
	b, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	return id, err == nil
}

// newPasswordErrors validates a new password pair the way the backend
// serializers do.
func newPasswordErrors(password, confirm, mismatch string) map[string][]string {
	fields := map[string][]string{}
	if password == "" {
		fields["new_password"] = []string{"This field is required."}
	} else if len(password) < minPasswordLength {
		fields["new_password"] = []string{"Ensure this field has at least 8 characters."}
	}
	if confirm == "" {
		fields["new_password_confirm"] = []string{"This field is required."}
	}
	if len(fields) == 0 && password != confirm {
		fields["non_field_errors"] = []string{mismatch}
	}
	return fields
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	s.passwordResets.Add(1)

	var in struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"email": {"This field is required."}})
		return
	}
	a := s.accounts.find(in.Email)
	if a == nil || !strings.EqualFold(a.Email, in.Email) {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"email": {"User with this email does not exist."}})
		return
	}

	token := mustHex(16)
	s.accounts.update(a.ID, func(a *Account) { a.resetToken = token })
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password reset email sent"})
}

func (s *Server) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UID     string `json:"uid"`
		Token   string `json:"token"`
		New     string `json:"new_password"`
		Confirm string `json:"new_password_confirm"`
	}
	if !decode(w, r, &in) {
		return
	}
	fields := newPasswordErrors(in.New, in.Confirm, "Passwords don't match")
	if in.UID == "" {
		fields["uid"] = []string{"This field is required."}
	}
	if in.Token == "" {
		fields["token"] = []string{"This field is required."}
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}

	id, ok := parseResetUID(in.UID)
	if !ok || s.accounts.get(id) == nil {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"non_field_errors": {"Invalid reset link"}})
		return
	}
	var reset bool
	s.accounts.update(id, func(a *Account) {
		if a.resetToken != "" && a.resetToken == in.Token {
			a.Password = in.New
			a.resetToken = ""
			reset = true
		}
	})
	if !reset {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"non_field_errors": {"Invalid or expired reset link"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password reset successful"})
}

func (s *Server) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Old     string `json:"old_password"`
		New     string `json:"new_password"`
		Confirm string `json:"new_password_confirm"`
	}
	if !decode(w, r, &in) {
		return
	}
	a := accountFrom(r)

	fields := map[string][]string{}
	switch {
	case in.Old == "":
		fields["old_password"] = []string{"This field is required."}
	case in.Old != a.Password:
		fields["old_password"] = []string{"Current password is incorrect"}
	}
	for k, v := range newPasswordErrors(in.New, in.Confirm, "New passwords don't match") {
		if k == "non_field_errors" && len(fields) > 0 {
			continue
		}
		fields[k] = v
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}

	s.accounts.update(a.ID, func(a *Account) {
		a.Password = in.New
		a.resetToken = ""
	})
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password changed successfully"})
}
