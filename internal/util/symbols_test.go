package util

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestReadSymbolsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.txt")
	content := "# NSE universe\nreliance\nTCS\n\nINFY\ntcs\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadSymbolsFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []string{"RELIANCE", "TCS", "INFY"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("symbols = %v, want %v", got, want)
	}
}

func TestReadSymbolsFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.txt")
	if err := os.WriteFile(path, []byte("# only comments\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSymbolsFile(path); err == nil {
		t.Fatal("expected error for empty universe")
	}
}
