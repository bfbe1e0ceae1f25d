package main

import (
	"context"
	"strings"
	"testing"

	"kasirinaja/ledger/internal/config"
	"kasirinaja/ledger/internal/domain"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "short"}); err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", BootstrapAdminPassword: "admin"})
	if err == nil {
		t.Fatalf("expected short bootstrap password to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

type usersStub struct {
	users []domain.UserAccount
}

func (s *usersStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.users = append(s.users, user)
	return nil
}

func (s *usersStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	return s.users, nil
}

func TestEnsureAdminOnlySeedsEmptyUserTable(t *testing.T) {
	ctx := context.Background()

	empty := &usersStub{}
	if err := ensureAdmin(ctx, empty, "s3cret-admin"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if len(empty.users) != 1 || empty.users[0].Role != domain.RoleAdmin {
		t.Fatalf("expected one admin account, got %+v", empty.users)
	}
	if !strings.HasPrefix(empty.users[0].Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", empty.users[0].Password)
	}

	if err := ensureAdmin(ctx, empty, "s3cret-admin"); err != nil {
		t.Fatalf("second ensure admin: %v", err)
	}
	if len(empty.users) != 1 {
		t.Fatalf("expected no extra account, got %d", len(empty.users))
	}

	unset := &usersStub{}
	if err := ensureAdmin(ctx, unset, ""); err != nil || len(unset.users) != 0 {
		t.Fatalf("expected no-op without password, got %+v err=%v", unset.users, err)
	}
}
