package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeMatrixFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestRunAcceptsConsistentMatrix(t *testing.T) {
	dir := t.TempDir()
	writeMatrixFile(t, dir, "intervention.csv", `Group,Status,Field,Action,Allowed,Condition
Partnership Manager,draft,*,edit,true,
,draft,title,required,true,
`)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-dir", dir}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit = %d, stderr %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "matrix ok: 1 table(s)") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunRejectsContradictoryRows(t *testing.T) {
	dir := t.TempDir()
	writeMatrixFile(t, dir, "intervention.csv", `Group,Status,Field,Action,Allowed,Condition
Partner,draft,title,edit,true,
Partner,draft,title,edit,false,
`)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-dir", dir}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "inconsistent matrix") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunRejectsUnknownTypeFile(t *testing.T) {
	dir := t.TempDir()
	writeMatrixFile(t, dir, "spaceship.csv", `Group,Status,Field,Action,Allowed,Condition
,,*,edit,true,
`)

	var stderr bytes.Buffer
	if code := run([]string{"-dir", dir}, &bytes.Buffer{}, &stderr); code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
}

func TestRunRequiresDirectory(t *testing.T) {
	t.Setenv("GOVCORE_MATRIX_DIR", "")
	var stderr bytes.Buffer
	if code := run(nil, &bytes.Buffer{}, &stderr); code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
}
