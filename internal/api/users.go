// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package api

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/storegate/internal/gateerr"
	"github.com/tomtom215/storegate/internal/permissions"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadySuspended   = errors.New("user already suspended")
	ErrUnchangedRole      = errors.New("user already has that role")
)

// dummyHash keeps sign-in timing uniform for unknown accounts.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("storegate-unknown-account"), bcrypt.MinCost)

// User is an admin application account.
type User struct {
	ID              string           `json:"id"`
	Email           string           `json:"email"`
	Role            permissions.Role `json:"role"`
	Suspended       bool             `json:"suspended"`
	SuspendedReason string           `json:"suspended_reason,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`

	passwordHash []byte
}

// values is the audited representation of u.
func (u User) values() map[string]any {
	return map[string]any{
		"id":         u.ID,
		"email":      u.Email,
		"role":       string(u.Role),
		"suspended":  u.Suspended,
		"updated_at": u.UpdatedAt,
	}
}

// UserSeed configures one account of the directory.
type UserSeed struct {
	ID    string `koanf:"id" validate:"required"`
	Email string `koanf:"email" validate:"required,email"`
	Role  string `koanf:"role" validate:"required,role"`

	// PasswordHash is a bcrypt hash. Accounts without one cannot sign in.
	PasswordHash string `koanf:"password_hash"`
}

// UserDirectory is the in-process account registry. The storefront owns
// the real user records; the directory holds the accounts the admin API
// acts on. Safe for concurrent use.
type UserDirectory struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
	now     func() time.Time
}

// NewUserDirectory loads seeds. Duplicate ids or emails and unknown roles
// are configuration errors.
func NewUserDirectory(seeds []UserSeed) (*UserDirectory, error) {
	d := &UserDirectory{
		byID:    make(map[string]*User, len(seeds)),
		byEmail: make(map[string]string, len(seeds)),
		now:     time.Now,
	}
	for _, s := range seeds {
		role, ok := permissions.ParseRole(s.Role)
		if !ok {
			return nil, gateerr.Configf("users: %s has unknown role %q", s.ID, s.Role)
		}
		email := strings.ToLower(strings.TrimSpace(s.Email))
		if _, dup := d.byID[s.ID]; dup {
			return nil, gateerr.Configf("users: duplicate id %q", s.ID)
		}
		if _, dup := d.byEmail[email]; dup {
			return nil, gateerr.Configf("users: duplicate email %q", email)
		}
		u := &User{ID: s.ID, Email: email, Role: role, UpdatedAt: d.now().UTC()}
		if s.PasswordHash != "" {
			u.passwordHash = []byte(s.PasswordHash)
		}
		d.byID[s.ID] = u
		d.byEmail[email] = s.ID
	}
	return d, nil
}

// Get returns a copy of the user.
func (d *UserDirectory) Get(id string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// List returns every user ordered by id.
func (d *UserDirectory) List() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, 0, len(d.byID))
	for _, u := range d.byID {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Authenticate checks an email and password pair. Suspended accounts fail
// like wrong passwords.
func (d *UserDirectory) Authenticate(email, password string) (User, error) {
	d.mu.RLock()
	var u User
	id, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if ok {
		u = *d.byID[id]
	}
	d.mu.RUnlock()

	hash := dummyHash
	if ok && len(u.passwordHash) > 0 {
		hash = u.passwordHash
	}
	match := bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil

	if !ok || len(u.passwordHash) == 0 || !match || u.Suspended {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// SetRole changes a user's role and returns the record before and after.
// check, when set, vets the current record under the directory lock.
func (d *UserDirectory) SetRole(id string, role permissions.Role, check func(User) error) (before, after User, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return User{}, User{}, ErrUserNotFound
	}
	if u.Role == role {
		return *u, *u, ErrUnchangedRole
	}
	if check != nil {
		if err := check(*u); err != nil {
			return *u, *u, err
		}
	}
	before = *u
	u.Role = role
	u.UpdatedAt = d.now().UTC()
	return before, *u, nil
}

// Suspend disables a user. check behaves as for SetRole.
func (d *UserDirectory) Suspend(id, reason string, check func(User) error) (before, after User, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return User{}, User{}, ErrUserNotFound
	}
	if u.Suspended {
		return *u, *u, ErrAlreadySuspended
	}
	if check != nil {
		if err := check(*u); err != nil {
			return *u, *u, err
		}
	}
	before = *u
	u.Suspended = true
	u.SuspendedReason = reason
	u.UpdatedAt = d.now().UTC()
	return before, *u, nil
}
