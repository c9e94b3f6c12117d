package memory

import (
	"context"
	"testing"
)

func TestCache_SetGet(t *testing.T) {
	c := New()
	ctx := context.Background()

	if _, found, _ := c.Get(ctx, "missing"); found {
		t.Fatal("expected miss for unknown key")
	}

	if err := c.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, found, err := c.Get(ctx, "k")
	if err != nil || !found {
		t.Fatalf("Get() = %q, %v, %v", got, found, err)
	}
	if string(got) != "v1" {
		t.Errorf("got %q, want v1", got)
	}

	// Returned slices must not alias the stored value.
	got[0] = 'x'
	again, _, _ := c.Get(ctx, "k")
	if string(again) != "v1" {
		t.Errorf("stored value was mutated through Get result: %q", again)
	}
}

func TestCache_AddOnlyWhenAbsent(t *testing.T) {
	c := New()
	ctx := context.Background()

	added, err := c.Add(ctx, "counter", []byte("0"))
	if err != nil || !added {
		t.Fatalf("first Add() = %v, %v; want true", added, err)
	}
	added, err = c.Add(ctx, "counter", []byte("5"))
	if err != nil || added {
		t.Fatalf("second Add() = %v, %v; want false", added, err)
	}
	v, _, _ := c.Get(ctx, "counter")
	if string(v) != "0" {
		t.Errorf("Add overwrote existing value: %q", v)
	}
}

func TestCache_Delete(t *testing.T) {
	c := New()
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("v"))
	_ = c.Delete(ctx, "k")
	if _, found, _ := c.Get(ctx, "k"); found {
		t.Error("expected key to be deleted")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}
