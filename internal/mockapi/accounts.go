package mockapi

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/gophdine/internal/client/models"
	"github.com/dmitrijs2005/gophdine/internal/common"
)

// Account is a user known to the mock API.
type Account struct {
	ID        int64
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	UserType  models.UserType
	Role      string

	// Active accounts have confirmed their e-mail address.
	Active bool
	// TOTP, when set, is the second factor the account must present.
	TOTP string
	// LegacyProfile omits email_verified from profile responses, like
	// accounts created before the field existed.
	LegacyProfile bool

	code       string
	resetToken string
}

func (a *Account) profile() *models.User {
	u := &models.User{
		ID:        a.ID,
		Username:  a.Username,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		UserType:  a.UserType,
		Role:      a.Role,
	}
	if !a.LegacyProfile {
		u.EmailVerified = models.Bool(a.Active)
	}
	return u
}

type accounts struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*Account
}

func newAccounts() *accounts {
	return &accounts{nextID: 1, byID: map[int64]*Account{}}
}

// add stores a copy of a and returns a snapshot with its ID assigned.
func (s *accounts) add(a Account) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if strings.EqualFold(existing.Username, a.Username) {
			return nil, fmt.Errorf("username %q taken", a.Username)
		}
		if strings.EqualFold(existing.Email, a.Email) {
			return nil, fmt.Errorf("email %q taken", a.Email)
		}
	}

	c := a
	c.ID = s.nextID
	s.nextID++
	if c.UserType == "" {
		c.UserType = models.UserTypeCustomer
	}
	if !c.Active && c.code == "" {
		c.code = newVerificationCode()
	}
	s.byID[c.ID] = &c
	out := c
	return &out, nil
}

// find looks an account up by username or e-mail and returns a snapshot.
func (s *accounts) find(identifier string) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byID {
		if strings.EqualFold(a.Username, identifier) || strings.EqualFold(a.Email, identifier) {
			c := *a
			return &c
		}
	}
	return nil
}

func (s *accounts) get(id int64) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil
	}
	c := *a
	return &c
}

func (s *accounts) taken(username, email string) map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields := map[string][]string{}
	for _, a := range s.byID {
		if username != "" && strings.EqualFold(a.Username, username) {
			fields["username"] = []string{"A user with that username already exists."}
		}
		if email != "" && strings.EqualFold(a.Email, email) {
			fields["email"] = []string{"A user with this email already exists."}
		}
	}
	return fields
}

// update runs fn on the account under the lock.
func (s *accounts) update(id int64, fn func(a *Account)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.byID[id]; ok {
		fn(a)
	}
}

func newVerificationCode() string {
	n := binary.BigEndian.Uint32(common.GenerateRandByteArray(4))
	return fmt.Sprintf("%06d", n%1_000_000)
}

// DemoAccounts are created when SeedDemoUsers is on. Passwords equal the
// username followed by "-pass"; the owner has 2FA code 123456.
func DemoAccounts() []Account {
	return []Account{
		{Username: "alice", Email: "alice@example.com", Password: "alice-pass", UserType: models.UserTypeCustomer, Active: true},
		{Username: "olga", Email: "olga@example.com", Password: "olga-pass", UserType: models.UserTypeOwner, Active: true, TOTP: "123456"},
		{Username: "mike", Email: "mike@example.com", Password: "mike-pass", UserType: models.UserTypeStaff, Role: "manager", Active: true},
		{Username: "chen", Email: "chen@example.com", Password: "chen-pass", UserType: models.UserTypeStaff, Role: "chef", Active: true},
		{Username: "newbie", Email: "newbie@example.com", Password: "newbie-pass", UserType: models.UserTypeCustomer},
	}
}
