package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"sendmer/pkg/logging"
	"sendmer/pkg/types"

	"github.com/zeebo/blake3"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store"), logging.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestImportFile(t *testing.T) {
	s := openStore(t)
	src := filepath.Join(t.TempDir(), "a.bin")
	data := bytes.Repeat([]byte("sendmer"), 1000)
	writeFile(t, src, data)

	res, err := s.Import(context.Background(), src)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Content.Kind != types.KindFile {
		t.Fatalf("kind = %v, want file", res.Content.Kind)
	}
	if res.Size != int64(len(data)) {
		t.Fatalf("size = %d, want %d", res.Size, len(data))
	}
	c := res.Collection
	if c.Name != "a.bin" || len(c.Entries) != 1 || c.Entries[0].Name != "a.bin" {
		t.Fatalf("unexpected collection %+v", c)
	}
	if want := types.Hash(blake3.Sum256(data)); c.Entries[0].Hash != want {
		t.Fatalf("entry hash = %s, want %s", c.Entries[0].Hash, want)
	}
	if b, ok := s.blobs[c.Entries[0].Hash]; !ok || b.path != src || b.owned {
		t.Fatalf("file not referenced in place: %+v %v", b, ok)
	}

	raw, err := s.Bytes(res.Content.Hash, MaxCollectionSize)
	if err != nil {
		t.Fatalf("collection blob: %v", err)
	}
	decoded, err := UnmarshalCollection(raw)
	if err != nil {
		t.Fatalf("UnmarshalCollection: %v", err)
	}
	if !reflect.DeepEqual(decoded, c) {
		t.Fatalf("decoded collection %+v, want %+v", decoded, c)
	}
}

func TestImportDirectory(t *testing.T) {
	s := openStore(t)
	root := filepath.Join(t.TempDir(), "docs")
	writeFile(t, filepath.Join(root, "b.txt"), []byte("bee"))
	writeFile(t, filepath.Join(root, "a.txt"), []byte("ay"))
	writeFile(t, filepath.Join(root, "sub", "c.txt"), []byte("sea"))
	writeFile(t, filepath.Join(root, ".sendmer-send-x", "data", "junk"), []byte("skip me"))
	if err := os.Symlink(filepath.Join(root, "a.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Fatal(err)
	}

	res, err := s.Import(context.Background(), root)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Content.Kind != types.KindDirectory || res.Collection.Name != "docs" {
		t.Fatalf("unexpected content %+v / %q", res.Content, res.Collection.Name)
	}
	want := []string{"docs/a.txt", "docs/b.txt", "docs/sub/c.txt"}
	if got := res.Collection.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
	if res.Size != 8 {
		t.Fatalf("size = %d, want 8", res.Size)
	}

	again, err := openStore(t).Import(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if again.Content != res.Content {
		t.Fatalf("import not deterministic: %v vs %v", again.Content, res.Content)
	}
}

func TestImportMissing(t *testing.T) {
	s := openStore(t)
	_, err := s.Import(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, types.ErrSourceNotFound) {
		t.Fatalf("Import error = %v, want ErrSourceNotFound", err)
	}
}

func TestImportCancelled(t *testing.T) {
	s := openStore(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a"), []byte("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Import(ctx, root); !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("Import error = %v, want ErrCancelled", err)
	}
}

func TestPartialResumeAndCommit(t *testing.T) {
	s := openStore(t)
	data := bytes.Repeat([]byte{0xab, 0xcd}, 5000)
	h := types.Hash(blake3.Sum256(data))

	p, err := s.Partial(h)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Write(data[:3000]); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	p, err = s.Partial(h)
	if err != nil {
		t.Fatal(err)
	}
	if p.Offset() != 3000 {
		t.Fatalf("resumed offset = %d, want 3000", p.Offset())
	}
	if _, err := p.Write(data[3000:]); err != nil {
		t.Fatal(err)
	}
	if err := p.Commit(int64(len(data))); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if size, ok := s.Size(h); !ok || size != int64(len(data)) {
		t.Fatalf("committed size = %d, %v", size, ok)
	}
	got, err := s.Bytes(h, 1<<20)
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("committed content mismatch: %v", err)
	}

	reopened, err := Open(s.dir, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.Has(h) {
		t.Fatal("committed blob not found after reopen")
	}
}

func TestPartialCommitRejectsCorruption(t *testing.T) {
	s := openStore(t)
	data := []byte("the real content")
	h := types.Hash(blake3.Sum256(data))

	p, err := s.Partial(h)
	if err != nil {
		t.Fatal(err)
	}
	p.Write([]byte("the fake content"))
	err = p.Commit(int64(len(data)))
	if !errors.Is(err, types.ErrTransferVerificationFailed) {
		t.Fatalf("Commit error = %v, want ErrTransferVerificationFailed", err)
	}
	if s.Has(h) {
		t.Fatal("corrupt blob registered")
	}

	p, err = s.Partial(h)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Abort()
	if p.Offset() != 0 {
		t.Fatalf("corrupt partial kept %d bytes", p.Offset())
	}
}

func TestExportDirectoryWithDuplicates(t *testing.T) {
	s := openStore(t)
	same := []byte("same bytes")
	h, err := s.Put(same)
	if err != nil {
		t.Fatal(err)
	}
	other, err := s.Put([]byte("other"))
	if err != nil {
		t.Fatal(err)
	}

	c := &Collection{Name: "docs", Kind: types.KindDirectory, Entries: []Entry{
		{Name: "a.txt", Hash: h, Size: int64(len(same))},
		{Name: "copy/a.txt", Hash: h, Size: int64(len(same))},
		{Name: "o.txt", Hash: other, Size: 5},
	}}
	out := filepath.Join(t.TempDir(), "out")
	top, err := s.Export(context.Background(), c, out)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if top != filepath.Join(out, "docs") {
		t.Fatalf("top = %s", top)
	}
	for name, want := range map[string]string{"a.txt": "same bytes", "copy/a.txt": "same bytes", "o.txt": "other"} {
		got, err := os.ReadFile(filepath.Join(top, filepath.FromSlash(name)))
		if err != nil || string(got) != want {
			t.Errorf("%s = %q, %v; want %q", name, got, err, want)
		}
	}
}

func TestCollectionValidate(t *testing.T) {
	cases := map[string]Collection{
		"traversal":     {Name: "docs", Kind: types.KindDirectory, Entries: []Entry{{Name: "../x"}}},
		"bad name":      {Name: "a/b", Kind: types.KindDirectory},
		"dot name":      {Name: "..", Kind: types.KindDirectory},
		"file mismatch": {Name: "a.bin", Kind: types.KindFile, Entries: []Entry{{Name: "b.bin"}}},
		"duplicate":     {Name: "d", Kind: types.KindDirectory, Entries: []Entry{{Name: "x"}, {Name: "x"}}},
		"unknown kind":  {Name: "d", Kind: 7},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			if err := c.Validate(); err == nil {
				t.Fatal("Validate accepted an invalid collection")
			}
		})
	}
}

func TestOpenChangedSource(t *testing.T) {
	s := openStore(t)
	src := filepath.Join(t.TempDir(), "a.bin")
	writeFile(t, src, bytes.Repeat([]byte("x"), 4096))

	res, err := s.Import(context.Background(), src)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	h := res.Collection.Entries[0].Hash

	f, size, err := s.Open(h)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.Close()
	if size != 4096 {
		t.Fatalf("size = %d, want 4096", size)
	}

	if err := os.Truncate(src, 100); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Open(h); !errors.Is(err, ErrChanged) {
		t.Fatalf("Open after truncate error = %v, want ErrChanged", err)
	}
}
