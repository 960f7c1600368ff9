package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"shoe.jpg":           "shoe",
		"dir/sub/bag.avif":   "bag",
		`C:\photos\coat.png`: "coat",
		"archive.tar.gz":     "archive.tar",
		"noext":              "noext",
		"":                   "",
	}
	for in, want := range tests {
		if got := BaseName(in); got != want {
			t.Errorf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := SanitizeFilename(` a/b:c*d?.`); got != "a_b_c_d_" {
		t.Errorf("got %q", got)
	}
}

func TestGenerateOutputFilename(t *testing.T) {
	got := GenerateOutputFilename("https:/x/shoe.webp", "out", "", "_preview", "jpg")
	if want := filepath.Join("out", "shoe_preview.jpg"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := GenerateOutputFilename("", "out", "p-", "", ""); got != filepath.Join("out", "p-image.jpg") {
		t.Errorf("got %q", got)
	}
}

func TestEnsureDirAndFileExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	f := filepath.Join(dir, "x.txt")
	if FileExists(f) {
		t.Error("file should not exist yet")
	}
	if err := os.WriteFile(f, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(f) {
		t.Error("file should exist")
	}
	if FileExists(dir) {
		t.Error("directories are not files")
	}
}

func TestFormatWeight(t *testing.T) {
	kb := 512.5
	mb := 2048.0
	tests := []struct {
		in   *float64
		want string
	}{
		{nil, "?"},
		{&kb, "512.50 KB"},
		{&mb, "2.00 MB"},
	}
	for _, tt := range tests {
		if got := FormatWeight(tt.in); got != tt.want {
			t.Errorf("FormatWeight = %q, want %q", got, tt.want)
		}
	}
}

func TestFormatFileSize(t *testing.T) {
	if got := FormatFileSize(512); got != "512 B" {
		t.Errorf("got %q", got)
	}
	if got := FormatFileSize(1536); got != "1.5 KB" {
		t.Errorf("got %q", got)
	}
}
