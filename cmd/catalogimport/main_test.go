package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const catalogCSV = "Name,Category,Daily Rate\n" +
	"Concrete Mixer,Concrete Mixers,\"R$ 1.234,56\"\n" +
	"Scaffold Tower,Scaffolding,20\n"

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("MEDIA_ENABLED", "false")
	t.Setenv("STORAGE_DIR", filepath.Join(dir, "objects"))
	t.Setenv("LOG_LEVEL", "error")

	path := filepath.Join(dir, "catalog.csv")
	if err := os.WriteFile(path, []byte(catalogCSV), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	return &out, root.Execute()
}

func TestImport_DryRun(t *testing.T) {
	path := setupEnv(t)

	out, err := execute(t, "import", path)
	if err != nil {
		t.Fatalf("import error = %v", err)
	}

	var report struct {
		Mode    string          `json:"mode"`
		Outcome json.RawMessage `json:"outcome"`
		Preview struct {
			TotalRows      int `json:"totalRows"`
			ImportableRows int `json:"importableRows"`
		} `json:"preview"`
	}
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report %q: %v", out.String(), err)
	}
	if report.Mode != "dry_run" {
		t.Errorf("mode = %q, want dry_run", report.Mode)
	}
	if report.Preview.TotalRows != 2 || report.Preview.ImportableRows != 2 {
		t.Errorf("preview = %+v, want 2 importable of 2", report.Preview)
	}
	if report.Outcome != nil {
		t.Errorf("dry run should not import, got outcome %s", report.Outcome)
	}
}

func TestImport_Apply(t *testing.T) {
	path := setupEnv(t)

	out, err := execute(t, "import", "--apply", path)
	if err != nil {
		t.Fatalf("import error = %v", err)
	}

	var report struct {
		Mode    string `json:"mode"`
		Outcome struct {
			Succeeded int `json:"succeeded"`
			Failed    int `json:"failed"`
		} `json:"outcome"`
	}
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report %q: %v", out.String(), err)
	}
	if report.Mode != "applied" || report.Outcome.Succeeded != 2 {
		t.Errorf("report = %+v, want 2 succeeded", report)
	}
}

func TestImport_MappingFile(t *testing.T) {
	path := setupEnv(t)
	mapping := filepath.Join(filepath.Dir(path), "mapping.yaml")
	if err := os.WriteFile(mapping, []byte("name: Category\n"), 0o644); err != nil {
		t.Fatalf("write mapping: %v", err)
	}

	out, err := execute(t, "import", "--mapping", mapping, path)
	if err != nil {
		t.Fatalf("import error = %v", err)
	}
	var report struct {
		Mapping struct {
			Mapping map[string]string `json:"mapping"`
		} `json:"mapping"`
	}
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if got := report.Mapping.Mapping["name"]; got != "Category" {
		t.Errorf("mapping[name] = %q, want Category", got)
	}
}

func TestImport_Errors(t *testing.T) {
	path := setupEnv(t)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"missing file", []string{"import", filepath.Join(t.TempDir(), "none.csv")}, exitUsage},
		{"bad kind", []string{"import", "--kind", "pdf", path}, exitUsage},
		{"media disabled", []string{"import", "--apply", "--media", path}, exitUsage},
		{"unknown template", []string{"import", "--template", "nope", path}, exitValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if got := exitCode(err); got != tt.want {
				t.Errorf("exit code = %d, want %d (err = %v)", got, tt.want, err)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{errors.New("boom"), exitFailure},
		{withCode(exitStore, errors.New("down")), exitStore},
		{fmt.Errorf("wrapped: %w", withCode(exitPartial, errors.New("1 failed"))), exitPartial},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSchemaCommand(t *testing.T) {
	t.Setenv("SCHEMA_FILE", "")
	out, err := execute(t, "schema")
	if err != nil {
		t.Fatalf("schema error = %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte("table: equipment")) {
		t.Errorf("schema output = %q, want the equipment table", out.String())
	}
}
