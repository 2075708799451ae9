package keystore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStaticCurrentAndRotate(t *testing.T) {
	ks, err := NewStatic("initial-master-secret-1234")
	if err != nil {
		t.Fatalf("NewStatic() error: %v", err)
	}

	got, err := ks.Current()
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if got != "initial-master-secret-1234" {
		t.Errorf("Current() = %q", got)
	}
	if prev := ks.Previous(); len(prev) != 0 {
		t.Errorf("Previous() = %v, want empty", prev)
	}

	if err := ks.Rotate("replacement-master-secret"); err != nil {
		t.Fatalf("Rotate() error: %v", err)
	}
	got, _ = ks.Current()
	if got != "replacement-master-secret" {
		t.Errorf("Current() after rotate = %q", got)
	}
	prev := ks.Previous()
	if len(prev) != 1 || prev[0] != "initial-master-secret-1234" {
		t.Errorf("Previous() after rotate = %v", prev)
	}
}

func TestStaticRejectsShortSecret(t *testing.T) {
	if _, err := NewStatic("short"); !errors.Is(err, ErrSecretTooShort) {
		t.Errorf("NewStatic() error = %v, want ErrSecretTooShort", err)
	}

	ks, _ := NewStatic("initial-master-secret-1234")
	if err := ks.Rotate("short"); !errors.Is(err, ErrSecretTooShort) {
		t.Errorf("Rotate() error = %v, want ErrSecretTooShort", err)
	}
}

func TestFileKeystoreLoadsCurrentAndPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.key")
	content := "current-master-secret-aaaa\nretired-master-secret-bbbb\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ks, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile() error: %v", err)
	}
	t.Cleanup(func() { ks.Close() })

	got, err := ks.Current()
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if got != "current-master-secret-aaaa" {
		t.Errorf("Current() = %q", got)
	}
	prev := ks.Previous()
	if len(prev) != 1 || prev[0] != "retired-master-secret-bbbb" {
		t.Errorf("Previous() = %v", prev)
	}
}

func TestFileKeystoreReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.key")
	if err := os.WriteFile(path, []byte("current-master-secret-aaaa\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ks, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile() error: %v", err)
	}
	t.Cleanup(func() { ks.Close() })

	next := "rotated-master-secret-cccc\ncurrent-master-secret-aaaa\n"
	if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := ks.Current(); got == "rotated-master-secret-cccc" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	got, _ := ks.Current()
	t.Fatalf("keystore did not reload; Current() = %q", got)
}

func TestFileKeystoreRejectsMissingOrEmptyFile(t *testing.T) {
	if _, err := NewFile(filepath.Join(t.TempDir(), "missing.key")); err == nil {
		t.Error("NewFile() with missing file succeeded")
	}

	path := filepath.Join(t.TempDir(), "empty.key")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := NewFile(path); !errors.Is(err, ErrNoSecret) {
		t.Errorf("NewFile() with empty file error = %v, want ErrNoSecret", err)
	}
}
