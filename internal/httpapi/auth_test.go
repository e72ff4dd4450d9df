package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
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

func adminOnlyStore() *userStoreStub {
	return &userStoreStub{
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
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := adminOnlyStore()
	ctx := context.Background()

	manager := NewAuthManager(ctx, "test-secret", time.Hour, users)
	_, err := manager.Login(ctx, domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	stored, err := users.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 user, got %d", len(stored))
	}
	if stored[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(stored[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", stored[0].Password)
	}
}

func TestCreateStaffStoresPasswordHash(t *testing.T) {
	users := adminOnlyStore()
	ctx := context.Background()

	manager := NewAuthManager(ctx, "test-secret", time.Hour, users)
	created, err := manager.CreateStaff(ctx, domain.StaffCreateRequest{
		Username: "LineCook",
		Password: "pass12345",
		Role:     domain.RoleManager,
	})
	if err != nil {
		t.Fatalf("create staff failed: %v", err)
	}
	if created.Username != "linecook" || created.Role != domain.RoleManager {
		t.Fatalf("unexpected user %+v", created)
	}

	stored := users.users["linecook"]
	if stored.Password == "pass12345" || !strings.HasPrefix(stored.Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %s", stored.Password)
	}

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "linecook", Password: "pass12345"})
	if err != nil {
		t.Fatalf("login with new staff failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "linecook" || actor.Role != domain.RoleManager {
		t.Fatalf("unexpected actor %+v", actor)
	}

	staff := manager.ListStaff(ctx)
	if len(staff) != 1 || staff[0].Username != "linecook" {
		t.Fatalf("expected only non-admin accounts, got %+v", staff)
	}
}

func TestCreateStaffValidation(t *testing.T) {
	ctx := context.Background()
	manager := NewAuthManager(ctx, "test-secret", time.Hour, adminOnlyStore())

	cases := []domain.StaffCreateRequest{
		{Username: "abc", Password: "long-enough"},
		{Username: "has space", Password: "long-enough"},
		{Username: "shortpw", Password: "short"},
		{Username: "newadmin", Password: "long-enough", Role: domain.RoleAdmin},
	}
	for _, req := range cases {
		if _, err := manager.CreateStaff(ctx, req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", req, err)
		}
	}

	if _, err := manager.CreateStaff(ctx, domain.StaffCreateRequest{Username: "admin", Password: "long-enough"}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	ctx := context.Background()
	issuer := NewAuthManager(ctx, "secret-one", time.Hour, adminOnlyStore())
	verifier := NewAuthManager(ctx, "secret-two", time.Hour, nil)

	resp, err := issuer.Login(ctx, domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
	if _, err := issuer.Login(ctx, domain.LoginRequest{Username: "admin", Password: "nope"}); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}
