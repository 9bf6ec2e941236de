package services

import (
	"fmt"
	"testing"
	"time"
)

type stubAuthStore struct {
	users map[string]*User
}

func newStubAuthStore() *stubAuthStore { return &stubAuthStore{users: map[string]*User{}} }

func (s *stubAuthStore) FindUserByEmail(email string) (*User, error) {
	return s.users[email], nil
}

func (s *stubAuthStore) AddUser(u *User) error {
	copy := *u
	s.users[u.Email] = &copy
	return nil
}

func fakeSigner(uid, email string, _ time.Duration) (string, error) {
	return fmt.Sprintf("tok-%s-%s", uid, email), nil
}

func TestAuthRegisterAndLogin(t *testing.T) {
	store := newStubAuthStore()
	svc := NewAuthService(store, fakeSigner)

	reg, err := svc.Register("admin@lab.example", "s3cret-pass")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.Token == "" || reg.UserID == "" {
		t.Fatalf("incomplete result %+v", reg)
	}

	login, err := svc.Login("admin@lab.example", "s3cret-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.UserID != reg.UserID {
		t.Fatal("login returned a different user")
	}
}

func TestAuthRejectsDuplicateEmail(t *testing.T) {
	svc := NewAuthService(newStubAuthStore(), fakeSigner)
	if _, err := svc.Register("admin@lab.example", "pass1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := svc.Register("admin@lab.example", "pass2")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAuthRejectsBadCredentials(t *testing.T) {
	svc := NewAuthService(newStubAuthStore(), fakeSigner)
	if _, err := svc.Register("admin@lab.example", "right-pass"); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := svc.Login("admin@lab.example", "wrong-pass")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	if _, err := svc.Login("ghost@lab.example", "any"); err == nil {
		t.Fatal("expected unauthorized for unknown email")
	}
	if _, err := svc.Login("", ""); err == nil {
		t.Fatal("expected invalid for blank credentials")
	}
}
