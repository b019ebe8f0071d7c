package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "docs/guide.pdf", "application/pdf", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://docs/guide.pdf" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	stored, ok := store.Get("docs/guide.pdf")
	if !ok || string(stored) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if ct := store.ContentType("docs/guide.pdf"); ct != "application/pdf" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestBlobStoreOverwriteAndPaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	for _, p := range []string{"b.pdf", "a.pdf", "b.pdf"} {
		if _, err := store.PutObject(ctx, p, "", bytes.NewReader([]byte(p))); err != nil {
			t.Fatal(err)
		}
	}
	paths := store.Paths()
	if len(paths) != 2 || paths[0] != "a.pdf" || paths[1] != "b.pdf" {
		t.Fatalf("unexpected paths %v", paths)
	}
	if _, ok := store.Get("missing"); ok {
		t.Fatal("expected missing path to be absent")
	}
}
