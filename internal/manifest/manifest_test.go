package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVerifyMissingFile(t *testing.T) {
	dir := t.TempDir()
	err := Verify(dir)
	if err == nil {
		t.Fatal("expected an error for missing model files")
	}
	var mismatch *MismatchError
	if !asMismatch(err, &mismatch) {
		t.Fatalf("expected *MismatchError, got %T: %v", err, err)
	}
}

func TestVerifyHashMismatch(t *testing.T) {
	dir := t.TempDir()
	for _, entry := range Required {
		if err := os.WriteFile(filepath.Join(dir, entry.Name), []byte("not the real model bytes"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	err := Verify(dir)
	if err == nil {
		t.Fatal("expected a checksum mismatch error")
	}
	var mismatch *MismatchError
	if !asMismatch(err, &mismatch) {
		t.Fatalf("expected *MismatchError, got %T: %v", err, err)
	}
	if mismatch.Actual == "" {
		t.Error("expected the actual digest to be recorded in the error")
	}
	if mismatch.Actual == mismatch.Expected {
		t.Error("test fixture accidentally matched the pinned hash")
	}
}

func asMismatch(err error, target **MismatchError) bool {
	m, ok := err.(*MismatchError)
	if !ok {
		return false
	}
	*target = m
	return true
}
