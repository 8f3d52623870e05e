package credential

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/jyothri/detach/detach"
)

func TestStoreRoundTrip(t *testing.T) {
	s := New(keyring.NewArrayKeyring(nil))

	if _, err := s.Get(RefreshTokenKey); !errors.Is(err, detach.ErrNotFound) {
		t.Fatalf("Get before Set = %v, want ErrNotFound", err)
	}
	if err := s.Set(RefreshTokenKey, "1//token"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(RefreshTokenKey)
	if err != nil || got != "1//token" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := s.Delete(RefreshTokenKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(RefreshTokenKey); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if _, err := s.Get(RefreshTokenKey); !errors.Is(err, detach.ErrNotFound) {
		t.Errorf("Get after Delete = %v", err)
	}
}
