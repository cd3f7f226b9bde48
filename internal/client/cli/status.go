package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdine/internal/client/client"
	"github.com/dmitrijs2005/gophdine/internal/client/guard"
)

// Whoami prints the signed-in user, fetching the profile when only a token
// is known.
func (a *App) Whoami(ctx context.Context) error {
	s := a.session.Snapshot()
	if s.User == nil && s.HasAccessToken && !s.Requires2FA {
		if _, err := a.session.LoadUserFromToken(ctx); err != nil {
			return err
		}
		s = a.session.Snapshot()
	}
	if !s.Authenticated {
		return client.ErrNotAuthenticated
	}

	u := s.User
	fmt.Fprintf(a.out, "%s <%s>\n", u.Username, u.Email)
	fmt.Fprintf(a.out, "  type:         %s\n", u.UserType)
	if u.Role != "" {
		fmt.Fprintf(a.out, "  role:         %s\n", u.Role)
	}
	fmt.Fprintf(a.out, "  verification: %s\n", u.Verification())
	return nil
}

// Status prints the session snapshot.
func (a *App) Status(ctx context.Context) error {
	s := a.session.Snapshot()

	fmt.Fprintf(a.out, "portal:          %s\n", s.Portal)
	fmt.Fprintf(a.out, "authenticated:   %t\n", s.Authenticated)
	if s.User != nil {
		fmt.Fprintf(a.out, "user:            %s (%s, %s)\n", s.User.Username, s.User.UserType, s.Verification())
	}
	fmt.Fprintf(a.out, "access token:    %t\n", s.HasAccessToken)
	fmt.Fprintf(a.out, "refresh token:   %t\n", s.HasRefreshToken)
	if s.Requires2FA {
		fmt.Fprintf(a.out, "2fa pending for: %s\n", s.PendingIdentifier)
	}
	if s.VerificationPending() {
		fmt.Fprintf(a.out, "verify e-mail:   %s (%s)\n", s.PendingVerificationEmail, s.PendingUserType)
	}
	if s.ResendAvailableIn > 0 {
		fmt.Fprintf(a.out, "resend in:       %s\n", s.ResendAvailableIn.Round(time.Second))
	}
	fmt.Fprintf(a.out, "csrf ready:      %t\n", s.CSRFInitialized)
	if s.CSRFError != nil {
		fmt.Fprintf(a.out, "csrf error:      %v\n", s.CSRFError)
	}
	if s.Err != nil {
		fmt.Fprintf(a.out, "last error:      %v\n", s.Err)
	}
	if l, ok := a.store.(keyLister); ok {
		keys, err := l.Keys(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "stored keys:     %s\n", orNone(strings.Join(keys, ", ")))
		fmt.Fprintf(a.out, "store file:      %s\n", a.storePath)
	}
	return nil
}

// keyLister is implemented by durable stores.
type keyLister interface {
	Keys(ctx context.Context) ([]string, error)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// Route prints what the route guard decides for nameOrPath right now.
func (a *App) Route(ctx context.Context, nameOrPath string) error {
	if nameOrPath == "" {
		return fmt.Errorf("usage: route <name|path>")
	}
	portal := a.config.PortalValue()
	r, known := guard.Lookup(portal, nameOrPath)
	d := guard.Decide(a.session.Snapshot(), r, guard.DefaultPaths())

	label := r.Name
	if !known {
		label += " (unguarded)"
	}
	switch d.Action {
	case guard.Redirect:
		fmt.Fprintf(a.out, "%s: redirect to %s [%s]\n", label, d.Target, d.Rule)
	default:
		fmt.Fprintf(a.out, "%s: %s [%s]\n", label, d.Action, d.Rule)
	}
	return nil
}

// Routes lists the known routes of the configured portal.
func (a *App) Routes(ctx context.Context) error {
	portal := a.config.PortalValue()
	for _, name := range guard.RouteNames(portal) {
		r, _ := guard.Lookup(portal, name)
		fmt.Fprintf(a.out, "%-16s %s\n", name, r.Path)
	}
	return nil
}

// Get fetches path from the API and pretty-prints the normalized body.
// The path may carry a query string.
func (a *App) Get(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("usage: get <path>")
	}
	u, err := url.Parse(path)
	if err != nil {
		return err
	}
	target, query := strings.TrimPrefix(u.Path, "/"), u.Query()
	if u.IsAbs() {
		target, query = path, nil
	}

	p, err := a.api.Fetch(ctx, target, query)
	if err != nil {
		return err
	}

	switch p.Kind {
	case client.KindObject:
		return a.printJSON(p.Object)
	case client.KindPage:
		if p.Count >= 0 {
			fmt.Fprintf(a.out, "%d results\n", p.Count)
		}
	}
	for _, item := range p.Items {
		if err := a.printJSON(item); err != nil {
			return err
		}
	}
	if p.Next != "" {
		fmt.Fprintf(a.out, "next: %s\n", p.Next)
	}
	return nil
}

func (a *App) printJSON(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := a.out.Write(buf.Bytes())
	return err
}

// Stats prints the client counters.
func (a *App) Stats(ctx context.Context) error {
	families, err := a.registry.Gather()
	if err != nil {
		return err
	}

	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(a.out, l)
	}
	fmt.Fprintf(a.out, "csrf fetches (coordinator) %d\n", a.coord.Fetches())
	return nil
}
