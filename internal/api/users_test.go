// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package api

import (
	"errors"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/storegate/internal/gateerr"
	"github.com/tomtom215/storegate/internal/permissions"
)

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(hash)
}

func testSeeds(t *testing.T) []UserSeed {
	return []UserSeed{
		{ID: "u-admin", Email: "Admin@Shop.Example", Role: "ADMIN", PasswordHash: hashPassword(t, "correct horse")},
		{ID: "u-support", Email: "support@shop.example", Role: "support", PasswordHash: hashPassword(t, "battery staple")},
		{ID: "u-cust", Email: "customer@shop.example", Role: "CUSTOMER"},
	}
}

func TestNewUserDirectory_RejectsBadSeeds(t *testing.T) {
	tests := []struct {
		name  string
		seeds []UserSeed
	}{
		{"unknown role", []UserSeed{{ID: "a", Email: "a@x.example", Role: "ROOT"}}},
		{"duplicate id", []UserSeed{
			{ID: "a", Email: "a@x.example", Role: "ADMIN"},
			{ID: "a", Email: "b@x.example", Role: "ADMIN"},
		}},
		{"duplicate email", []UserSeed{
			{ID: "a", Email: "a@x.example", Role: "ADMIN"},
			{ID: "b", Email: "A@X.example", Role: "ADMIN"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewUserDirectory(tt.seeds)
			if !gateerr.IsConfiguration(err) {
				t.Errorf("error = %v, want configuration error", err)
			}
		})
	}
}

func TestUserDirectory_Authenticate(t *testing.T) {
	d, err := NewUserDirectory(testSeeds(t))
	if err != nil {
		t.Fatal(err)
	}

	u, err := d.Authenticate("  admin@shop.example ", "correct horse")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if u.ID != "u-admin" || u.Role != permissions.RoleAdmin {
		t.Errorf("user = %+v", u)
	}

	failures := []struct {
		name, email, password string
	}{
		{"wrong password", "admin@shop.example", "wrong"},
		{"unknown email", "nobody@shop.example", "correct horse"},
		{"no password hash", "customer@shop.example", ""},
	}
	for _, f := range failures {
		t.Run(f.name, func(t *testing.T) {
			if _, err := d.Authenticate(f.email, f.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestUserDirectory_SuspendedCannotSignIn(t *testing.T) {
	d, err := NewUserDirectory(testSeeds(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := d.Suspend("u-support", "chargeback fraud", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Authenticate("support@shop.example", "battery staple"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", err)
	}

	if _, _, err := d.Suspend("u-support", "again", nil); !errors.Is(err, ErrAlreadySuspended) {
		t.Errorf("second Suspend() error = %v", err)
	}
}

func TestUserDirectory_SetRole(t *testing.T) {
	d, err := NewUserDirectory(testSeeds(t))
	if err != nil {
		t.Fatal(err)
	}

	before, after, err := d.SetRole("u-cust", permissions.RoleSupport, nil)
	if err != nil {
		t.Fatal(err)
	}
	if before.Role != permissions.RoleCustomer || after.Role != permissions.RoleSupport {
		t.Errorf("before %s after %s", before.Role, after.Role)
	}
	if got, _ := d.Get("u-cust"); got.Role != permissions.RoleSupport {
		t.Errorf("stored role = %s", got.Role)
	}

	if _, _, err := d.SetRole("u-cust", permissions.RoleSupport, nil); !errors.Is(err, ErrUnchangedRole) {
		t.Errorf("unchanged error = %v", err)
	}
	if _, _, err := d.SetRole("u-missing", permissions.RoleAdmin, nil); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("missing error = %v", err)
	}

	veto := errors.New("veto")
	if _, _, err := d.SetRole("u-cust", permissions.RoleAdmin, func(User) error { return veto }); !errors.Is(err, veto) {
		t.Errorf("check error = %v", err)
	}
	if got, _ := d.Get("u-cust"); got.Role != permissions.RoleSupport {
		t.Errorf("vetoed change was applied: %s", got.Role)
	}
}

func TestUserDirectory_ListSortedAndCopies(t *testing.T) {
	d, err := NewUserDirectory(testSeeds(t))
	if err != nil {
		t.Fatal(err)
	}
	list := d.List()
	if len(list) != 3 || list[0].ID != "u-admin" || list[2].ID != "u-support" {
		t.Fatalf("List() = %+v", list)
	}
	list[0].Role = permissions.RoleCustomer
	if got, _ := d.Get("u-admin"); got.Role != permissions.RoleAdmin {
		t.Error("List() returned a shared record")
	}
}

func TestUserDirectory_ConcurrentSuspend(t *testing.T) {
	d, err := NewUserDirectory(testSeeds(t))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := d.Suspend("u-cust", "abuse", nil); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("%d suspensions succeeded, want 1", succeeded)
	}
}
