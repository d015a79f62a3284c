package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestAgendaRequiresURLAndOutput(t *testing.T) {
	cases := []Options{
		{OutputPath: "x.png"},
		{URL: "http://127.0.0.1/agenda"},
	}
	for _, opts := range cases {
		if err := Agenda(context.Background(), opts); err == nil {
			t.Errorf("expected an error for %+v", opts)
		}
	}
}

func TestNormalizeDefaults(t *testing.T) {
	opts := Options{URL: "u", OutputPath: "o"}
	if err := opts.normalize(); err != nil {
		t.Fatal(err)
	}
	if opts.Width != DefaultWidth || opts.Height != DefaultHeight || opts.Timeout == 0 {
		t.Errorf("defaults not applied: %+v", opts)
	}
}

func TestWriteFileReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "agenda.png")
	if err := writeFile(path, []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(path, []byte("two")); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "two" {
		t.Fatalf("got %q, %v", got, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}
