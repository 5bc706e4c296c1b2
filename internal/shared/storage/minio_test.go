package storage

import "testing"

func TestNewMinIOArchiverDisabled(t *testing.T) {
	a, err := NewMinIOArchiver("", "", "", "exports", false)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if a != nil {
		t.Fatal("expected nil archiver when endpoint is empty")
	}
}

func TestNewMinIOArchiver(t *testing.T) {
	a, err := NewMinIOArchiver("localhost:9000", "ak", "sk", "exports", false)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if a.bucket != "exports" {
		t.Errorf("bucket = %q", a.bucket)
	}
}
