package artifact

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func newTestDir(t *testing.T) *Dir {
	t.Helper()
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDirWriteAndRead(t *testing.T) {
	d := newTestDir(t)
	ctx := context.Background()

	w, err := d.Write(ctx, "runs/abc/report.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, "passed: true\n"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := d.Read(ctx, "runs/abc/report.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "passed: true\n" {
		t.Fatalf("got %q", got)
	}
}

func TestDirReadNotExist(t *testing.T) {
	d := newTestDir(t)
	_, err := d.Read(context.Background(), "missing.wav")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestDirExists(t *testing.T) {
	d := newTestDir(t)
	ctx := context.Background()

	ok, err := d.Exists(ctx, "nothing")
	if err != nil || ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	w, err := d.Write(ctx, "something")
	if err != nil {
		t.Fatal(err)
	}
	w.Close()

	ok, err = d.Exists(ctx, "something")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
}

func TestDirDeleteIdempotent(t *testing.T) {
	d := newTestDir(t)
	ctx := context.Background()

	if err := d.Delete(ctx, "ghost"); err != nil {
		t.Fatal(err)
	}

	w, err := d.Write(ctx, "tmp")
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	if err := d.Delete(ctx, "tmp"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := d.Exists(ctx, "tmp"); ok {
		t.Fatal("file should be gone")
	}
}

func TestNewDirCreates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested")
	if _, err := NewDir(path); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		t.Fatalf("stat = %v, %v", info, err)
	}
}

func TestSyncMirrorsTree(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{
		"report.yaml":                 "passed: true\n",
		"weather-turn00-reply01.wav":  "RIFFxxxx",
		"nested/extra/transcript.txt": "hello",
	}
	for name, content := range files {
		full := filepath.Join(src, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	dst := newTestDir(t)
	ctx := context.Background()
	n, err := Sync(ctx, dst, "run-42", src)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(files) {
		t.Fatalf("synced %d files, want %d", n, len(files))
	}

	for name, content := range files {
		r, err := dst.Read(ctx, "run-42/"+name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		got, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != content {
			t.Fatalf("%s = %q, want %q", name, got, content)
		}
	}
}

func TestSyncMissingDir(t *testing.T) {
	dst := newTestDir(t)
	if _, err := Sync(context.Background(), dst, "x", filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing source dir")
	}
}
