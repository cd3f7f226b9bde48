package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliRun struct {
	base  string
	store string
}

func (r cliRun) exec(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd(strings.NewReader(input), &out, &errOut)
	cmd.SetArgs(append([]string{"--api", r.base, "--store", r.store, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newCLIRun(t *testing.T) cliRun {
	t.Helper()
	piped(t)
	_, base := startAPI(t)
	return cliRun{base: base, store: filepath.Join(t.TempDir(), "session.db")}
}

func TestCommands_SessionSurvivesBetweenRuns(t *testing.T) {
	r := newCLIRun(t)

	out, err := r.exec(t, "alice-pass\n", "login", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as alice (customer).")

	out, err = r.exec(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "alice <alice@example.com>")

	out, err = r.exec(t, "", "route", "checkout")
	require.NoError(t, err)
	assert.Contains(t, out, "checkout: allow [allow]")

	out, err = r.exec(t, "", "get", "orders/")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "pending"`)

	out, err = r.exec(t, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out.")

	_, err = r.exec(t, "", "whoami")
	assert.Error(t, err)
}

func TestCommands_RegisterVerifyFlow(t *testing.T) {
	piped(t)
	api, base := startAPI(t)
	r := cliRun{base: base, store: filepath.Join(t.TempDir(), "session.db")}

	out, err := r.exec(t, "long-password\nlong-password\n", "register", "-u", "erin", "-e", "erin@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Account erin created.")

	out, err = r.exec(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "verify e-mail:   erin@example.com (customer)")

	out, err = r.exec(t, "", "route", "menu")
	require.NoError(t, err)
	assert.Contains(t, out, "menu: redirect to /verify-email [pending-verification]")

	out, err = r.exec(t, "", "verify", api.VerificationCode("erin@example.com"))
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as erin")

	out, err = r.exec(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "verification: verified")
}

func TestCommands_OwnerPortalTwoFactor(t *testing.T) {
	r := newCLIRun(t)

	out, err := r.exec(t, "olga-pass\n123456\n", "--portal", "owner", "login", "olga")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as olga (owner).")

	out, err = r.exec(t, "", "-p", "owner", "route", "reports")
	require.NoError(t, err)
	assert.Contains(t, out, "reports: allow [allow]")
}

func TestCommands_BadConfig(t *testing.T) {
	r := newCLIRun(t)

	_, err := r.exec(t, "", "--portal", "kitchen", "status")
	assert.ErrorContains(t, err, "unknown portal")

	_, err = r.exec(t, "", "route")
	assert.Error(t, err, "route needs an argument")
}

func TestCommands_PasswdThenLoginWithNewPassword(t *testing.T) {
	r := newCLIRun(t)

	_, err := r.exec(t, "alice-pass\n", "login", "alice")
	require.NoError(t, err)

	out, err := r.exec(t, "alice-pass\nbrand-new-pass\nbrand-new-pass\n", "passwd")
	require.NoError(t, err)
	assert.Contains(t, out, "Password changed successfully")

	_, err = r.exec(t, "", "logout")
	require.NoError(t, err)

	_, err = r.exec(t, "alice-pass\n", "login", "alice")
	assert.Error(t, err)

	out, err = r.exec(t, "brand-new-pass\n", "login", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as alice (customer).")
}
