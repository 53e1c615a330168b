package fs

import (
	"context"
	"io"
	"strings"
	"testing"

	"govcore/internal/infra/blob/core"
)

func putOpts(contentType, actor string) core.PutOptions {
	opts := core.PutOptions{ContentType: contentType}
	if actor != "" {
		opts.Metadata = map[string]string{"uploaded_by": actor}
	}
	return opts
}

func TestPutGetRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	info, err := store.Put(ctx, "intervention/i-1/report.pdf", strings.NewReader("contents"), putOpts("application/pdf", "u-1"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len("contents")) || info.Checksum == "" {
		t.Fatalf("unexpected info: %+v", info)
	}

	got, rc, err := store.Get(ctx, "intervention/i-1/report.pdf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "contents" {
		t.Fatalf("content mismatch: %q", data)
	}
	if got.Checksum != info.Checksum || got.ContentType != "application/pdf" {
		t.Fatalf("metadata mismatch: %+v", got)
	}
	if got.Metadata["uploaded_by"] != "u-1" {
		t.Fatalf("user metadata lost: %+v", got.Metadata)
	}
}

func TestPutRefusesOverwrite(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Put(ctx, "a/b", strings.NewReader("x"), putOpts("", "")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "a/b", strings.NewReader("y"), putOpts("", "")); err == nil {
		t.Fatalf("expected overwrite rejection")
	}
}

func TestKeySanitization(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	for _, key := range []string{"", "../escape", "/abs", "a/../../b"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), putOpts("", "")); err == nil {
			t.Fatalf("key %q accepted", key)
		}
	}
}

func TestListFiltersByPrefix(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	for _, key := range []string{"intervention/i-1/a", "intervention/i-2/b", "agreement/a-1/c"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), putOpts("", "")); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := store.List(ctx, "intervention/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 entries, got %+v", infos)
	}
	if infos[0].Key != "intervention/i-1/a" || infos[1].Key != "intervention/i-2/b" {
		t.Fatalf("unexpected ordering: %+v", infos)
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Put(ctx, "a/b", strings.NewReader("x"), putOpts("", "")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, err := store.Delete(ctx, "a/b"); err != nil || !ok {
		t.Fatalf("delete existing: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "a/b"); err != nil || ok {
		t.Fatalf("delete missing: %v %v", ok, err)
	}
}
