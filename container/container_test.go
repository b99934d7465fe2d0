package container

import (
	"archive/zip"
	"bytes"
	"testing"
)

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("Create(%s): %v", name, err)
		}
		if _, err := f.Write(data); err != nil {
			t.Fatalf("Write(%s): %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func TestArchive_ReadFile(t *testing.T) {
	want := []byte("binary manifest bytes")
	data := buildZip(t, map[string][]byte{
		"AndroidManifest.xml": want,
		"resources.arsc":      []byte("resource table bytes"),
	})

	a, err := OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer a.Close()

	got, err := a.ReadFile("AndroidManifest.xml")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadFile = %q, want %q", got, want)
	}
}

func TestArchive_ReadFileMissing(t *testing.T) {
	data := buildZip(t, map[string][]byte{"a.txt": []byte("x")})

	a, err := OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer a.Close()

	if _, err := a.ReadFile("AndroidManifest.xml"); err == nil {
		t.Fatalf("ReadFile(missing) = nil error, want an error")
	}
}

func TestArchive_EntriesOrdered(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"a.txt": []byte("a"),
		"b.txt": []byte("b"),
	})

	a, err := OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer a.Close()

	if len(a.EntriesOrdered) != 2 {
		t.Fatalf("len(EntriesOrdered) = %d, want 2", len(a.EntriesOrdered))
	}
}
