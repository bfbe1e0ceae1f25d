package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"kasirinaja/ledger/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
	if store.updates != 1 {
		t.Fatalf("expected exactly one password upgrade, got %d", store.updates)
	}
}

func TestLoginRejectsInactiveAndUnknownAccounts(t *testing.T) {
	hash, err := hashPassword("kasir123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"kasir2": {Username: "kasir2", Password: hash, Role: domain.RoleCashier, Active: false},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, store)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "kasir2", Password: "kasir123"}); err == nil {
		t.Fatalf("expected inactive account to be rejected")
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "kasir123"}); err == nil {
		t.Fatalf("expected unknown account to be rejected")
	}
}

func TestTokenCarriesRoleAndRejectsForeignSignatures(t *testing.T) {
	hash, err := hashPassword("manager123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"manager": {Username: "manager", Password: hash, Role: domain.RoleManager, Active: true},
		},
	}
	manager := NewAuthManager("test-secret-0123456789-0123456789", time.Hour, store)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "Manager ", Password: "manager123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleManager {
		t.Fatalf("expected manager role, got %q", resp.Role)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "manager" || actor.Role != domain.RoleManager {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager("another-secret-0123456789-0123456", time.Hour, nil)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestParseTokenRejectsExpiredAndForeignIssuer(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, nil)

	expired, err := manager.sign("cashier", domain.RoleCashier, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	foreign := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "cashier",
			Issuer:    "someone-else",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: domain.RoleAdmin,
	})
	signed, err := foreign.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign foreign: %v", err)
	}
	if _, err := manager.ParseToken(signed); err == nil {
		t.Fatalf("expected token from another issuer to be rejected")
	}
}
