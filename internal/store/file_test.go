package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_PutGetDelete(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	if _, err := fs.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := fs.Put(ctx, "tracked_products", []byte(`[{"id":1}]`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := fs.Get(ctx, "tracked_products")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `[{"id":1}]` {
		t.Fatalf("unexpected value: %s", got)
	}

	// 覆盖写入
	if err := fs.Put(ctx, "tracked_products", []byte(`[]`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err = fs.Get(ctx, "tracked_products")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if string(got) != `[]` {
		t.Fatalf("unexpected value after overwrite: %s", got)
	}

	if err := fs.Delete(ctx, "tracked_products"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := fs.Get(ctx, "tracked_products"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// 删除不存在的键不报错
	if err := fs.Delete(ctx, "tracked_products"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestFileStore_KeysPrefix(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"price_prediction_a", "price_prediction_b", "deal_evaluation_a"} {
		if err := fs.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	keys, err := fs.Keys(ctx, "price_prediction_")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(keys), keys)
	}

	all, err := fs.Keys(ctx, "")
	if err != nil {
		t.Fatalf("keys all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(all))
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	if err := fs.Put(ctx, "state", []byte("ok")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(fs.path("state"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}

	if _, err := fs.Get(ctx, "state"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for corrupt file, got %v", err)
	}
	// 坏文件应被顺手清理
	if _, err := os.Stat(fs.path("state")); !os.IsNotExist(err) {
		t.Fatalf("expected corrupt file removed, stat err: %v", err)
	}
}

func TestFileStore_AtomicWriteLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := fs.Put(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no temp files, got %v", matches)
	}
}
