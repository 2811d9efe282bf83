package vecstore

import (
	"errors"
	"testing"

	"github.com/answerly/engine/engine/domain"
)

func TestShared_MissingAPIKey(t *testing.T) {
	resetShared()
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvCollection, "kb")

	_, err := Shared()
	var ce *domain.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want ConfigError", err)
	}
	if ce.Key != EnvAPIKey {
		t.Errorf("key = %s, want %s", ce.Key, EnvAPIKey)
	}
}

func TestShared_MissingCollection(t *testing.T) {
	resetShared()
	t.Setenv(EnvAPIKey, "secret")
	t.Setenv(EnvCollection, "")

	_, err := Shared()
	var ce *domain.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want ConfigError", err)
	}
	if ce.Key != EnvCollection {
		t.Errorf("key = %s, want %s", ce.Key, EnvCollection)
	}
}

func TestShared_ConstructsOnce(t *testing.T) {
	resetShared()
	t.Setenv(EnvAPIKey, "secret")
	t.Setenv(EnvCollection, "kb")
	t.Setenv(EnvURL, "localhost:6334")

	first, err := Shared()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Shared()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("Shared should return the same handle")
	}
	resetShared()
}
