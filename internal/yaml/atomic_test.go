package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	yamlv3 "gopkg.in/yaml.v3"
)

func readMap(t *testing.T, path string) map[string]string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile %s: %v", path, err)
	}
	var m map[string]string
	if err := yamlv3.Unmarshal(content, &m); err != nil {
		t.Fatalf("Unmarshal %s: %v", path, err)
	}
	return m
}

func TestAtomicWrite_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".migrun", "runs", "report.yaml")

	if err := AtomicWrite(path, map[string]string{"outcome": "complete"}); err != nil {
		t.Fatalf("AtomicWrite: %v", err)
	}
	if got := readMap(t, path)["outcome"]; got != "complete" {
		t.Errorf("outcome = %q, want complete", got)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != filePerm {
		t.Errorf("perm = %o, want %o", perm, filePerm)
	}
}

func TestAtomicWrite_KeepsPreviousAsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.yaml")

	for _, outcome := range []string{"stalled", "complete"} {
		if err := AtomicWrite(path, map[string]string{"outcome": outcome}); err != nil {
			t.Fatalf("write %s: %v", outcome, err)
		}
	}
	if got := readMap(t, path+".bak")["outcome"]; got != "stalled" {
		t.Errorf("backup outcome = %q, want stalled", got)
	}
	if got := readMap(t, path)["outcome"]; got != "complete" {
		t.Errorf("current outcome = %q, want complete", got)
	}
}

func TestAtomicWriteRaw_RejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.yaml")

	if err := AtomicWriteRaw(path, []byte(":\n  broken: [\n")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("directory not empty after rejected write: %v", entries)
	}
}

func TestAtomicWriteDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.yaml")

	if err := AtomicWriteDocument(path, FileTypeRunReport, document{SchemaHeader: NewHeader(FileTypeRunReport), Outcome: "complete"}); err != nil {
		t.Fatalf("AtomicWriteDocument: %v", err)
	}

	err := AtomicWriteDocument(path, FileTypeRunReport, map[string]string{"outcome": "failed"})
	if err == nil || !strings.Contains(err.Error(), "schema_version") {
		t.Fatalf("headerless document: err = %v, want schema_version error", err)
	}
	var got document
	if err := ReadDocument(path, FileTypeRunReport, &got); err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if got.Outcome != "complete" {
		t.Errorf("rejected write replaced the file: outcome = %q", got.Outcome)
	}
	if _, err := os.Stat(path + ".bak"); !os.IsNotExist(err) {
		t.Error("rejected write created a backup")
	}
}
