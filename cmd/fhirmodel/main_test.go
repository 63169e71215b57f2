package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

const (
	validContract   = `{"resourceType":"Contract","id":"ok","status":"executed"}`
	invalidContract = `{"resourceType":"Contract","id":"bad","status":"draft"}`
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
		check   func(*testing.T, *Config)
	}{
		{
			name: "defaults",
			args: []string{"validate", "a.json"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Mode != "lenient" || cfg.Output != outputText || cfg.To != "xml" || cfg.LogLevel != "warn" {
					t.Errorf("unexpected defaults: %+v", cfg)
				}
				if len(cfg.Files) != 1 || cfg.Files[0] != "a.json" {
					t.Errorf("Files = %v", cfg.Files)
				}
			},
		},
		{
			name: "flags",
			args: []string{"validate", "-schema", "a.yaml, b.json", "-strict", "-workers", "3", "-output", "json", "x.json", "y.xml"},
			check: func(t *testing.T, cfg *Config) {
				if len(cfg.Schemas) != 2 || cfg.Schemas[1] != "b.json" {
					t.Errorf("Schemas = %v", cfg.Schemas)
				}
				if !cfg.Strict || cfg.Workers != 3 || cfg.Output != outputJSON {
					t.Errorf("unexpected config: %+v", cfg)
				}
				if len(cfg.Files) != 2 {
					t.Errorf("Files = %v", cfg.Files)
				}
			},
		},
		{name: "unknown command", args: []string{"lint", "a.json"}, wantErr: "command must be one of"},
		{name: "no files", args: []string{"validate"}, wantErr: "files is required"},
		{name: "bad mode", args: []string{"validate", "-mode", "loose", "a.json"}, wantErr: "mode must be one of"},
		{name: "negative workers", args: []string{"validate", "-workers", "-1", "a.json"}, wantErr: "workers is invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			cfg, err := parseConfig(tt.args, &stderr)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("parseConfig() error = %v; want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseConfig() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestParseConfig_Env(t *testing.T) {
	t.Setenv("FHIRMODEL_MODE", "strict")
	t.Setenv("FHIRMODEL_MAX_ISSUES", "7")
	t.Setenv("FHIRMODEL_STRICT", "true")
	t.Setenv("FHIRMODEL_SCHEMAS", "deal.yaml")

	cfg, err := parseConfig([]string{"validate", "a.json"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "strict" || cfg.MaxIssues != 7 || !cfg.Strict {
		t.Errorf("env defaults not applied: %+v", cfg)
	}
	if len(cfg.Schemas) != 1 || cfg.Schemas[0] != "deal.yaml" {
		t.Errorf("Schemas = %v", cfg.Schemas)
	}

	cfg, err = parseConfig([]string{"validate", "-mode", "lenient", "a.json"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "lenient" {
		t.Errorf("flag should override env, Mode = %q", cfg.Mode)
	}
}

func TestParseConfig_Help(t *testing.T) {
	var stderr bytes.Buffer
	if _, err := parseConfig(nil, &stderr); err != ErrHelp {
		t.Fatalf("parseConfig(nil) error = %v; want ErrHelp", err)
	}
	if !strings.Contains(stderr.String(), "fhirmodel validate") {
		t.Errorf("usage not printed: %s", stderr.String())
	}
}

func TestRun_Validate(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.json", validContract)
	bad := writeFile(t, dir, "bad.json", invalidContract)

	tests := []struct {
		name     string
		args     []string
		wantCode int
		contains []string
	}{
		{"valid", []string{"validate", good}, 0, []string{"Status: VALID"}},
		{"invalid", []string{"validate", bad}, 1, []string{"Status: INVALID", "Contract.status"}},
		{"mixed", []string{"validate", good, bad}, 1, []string{"good.json", "bad.json"}},
		{"glob", []string{"validate", filepath.Join(dir, "*.json")}, 1, []string{"good.json", "bad.json"}},
		{"usage error", []string{"validate", "-output", "yaml", good}, 2, nil},
		{"no match", []string{"validate", filepath.Join(dir, "*.xml")}, 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCLI(t, "", tt.args...)
			if code != tt.wantCode {
				t.Fatalf("exit code = %d; want %d\nstdout: %s\nstderr: %s", code, tt.wantCode, stdout, stderr)
			}
			for _, want := range tt.contains {
				if !strings.Contains(stdout, want) {
					t.Errorf("output is missing %q:\n%s", want, stdout)
				}
			}
		})
	}
}

func TestRun_ValidateJSONOutput(t *testing.T) {
	code, stdout, _ := runCLI(t, invalidContract, "validate", "-output", "json", "-")
	if code != 1 {
		t.Fatalf("exit code = %d; want 1", code)
	}

	var outputs []ValidationOutput
	if err := json.Unmarshal([]byte(stdout), &outputs); err != nil {
		t.Fatalf("invalid JSON report: %v\n%s", err, stdout)
	}
	if len(outputs) != 1 {
		t.Fatalf("outputs = %+v; want one", outputs)
	}
	out := outputs[0]
	if out.Resource != "stdin" || out.Valid || out.Errors == 0 {
		t.Errorf("unexpected report: %+v", out)
	}
	if out.Type != "Contract" {
		t.Errorf("Type = %q; want Contract", out.Type)
	}
}

func TestRun_ValidateQuiet(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.json", validContract)

	code, stdout, _ := runCLI(t, "", "validate", "-quiet", good)
	if code != 0 {
		t.Fatalf("exit code = %d; want 0", code)
	}
	if strings.TrimSpace(stdout) != "" {
		t.Errorf("quiet mode printed a clean resource:\n%s", stdout)
	}
}

func TestRun_ValidateStreams(t *testing.T) {
	dir := t.TempDir()
	ndjson := writeFile(t, dir, "export.ndjson", validContract+"\n"+invalidContract+"\n")
	bundle := writeFile(t, dir, "bundle.json", `{
		"resourceType": "Bundle",
		"type": "collection",
		"entry": [
			{"fullUrl": "urn:uuid:1", "resource": `+validContract+`},
			{"fullUrl": "urn:uuid:2", "resource": `+invalidContract+`}
		]
	}`)

	tests := []struct {
		name     string
		file     string
		contains []string
	}{
		{"ndjson", ndjson, []string{"export.ndjson[0]", "export.ndjson[1]"}},
		{"bundle", bundle, []string{"bundle.json[0] urn:uuid:1", "bundle.json[1] urn:uuid:2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCLI(t, "", "validate", tt.file)
			if code != 1 {
				t.Fatalf("exit code = %d; want 1\n%s\n%s", code, stdout, stderr)
			}
			for _, want := range tt.contains {
				if !strings.Contains(stdout, want) {
					t.Errorf("output is missing %q:\n%s", want, stdout)
				}
			}
			if strings.Count(stdout, "Status: INVALID") != 1 {
				t.Errorf("want exactly one invalid entry:\n%s", stdout)
			}
		})
	}
}

func TestRun_Convert(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "contract.json", validContract)

	code, stdout, stderr := runCLI(t, "", "convert", "-to", "xml", src)
	if code != 0 {
		t.Fatalf("exit code = %d; stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, `<Contract xmlns="http://hl7.org/fhir">`) {
		t.Errorf("unexpected XML:\n%s", stdout)
	}

	out := filepath.Join(dir, "out")
	code, _, stderr = runCLI(t, "", "convert", "-to", "xml", "-out", out, src)
	if code != 0 {
		t.Fatalf("exit code = %d; stderr: %s", code, stderr)
	}
	data, err := os.ReadFile(filepath.Join(out, "contract.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `<status value="executed"/>`) {
		t.Errorf("unexpected file content:\n%s", data)
	}

	code, stdout, stderr = runCLI(t, string(data), "convert", "-to", "json", "-")
	if code != 0 {
		t.Fatalf("exit code = %d; stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, `"status":"executed"`) {
		t.Errorf("unexpected JSON:\n%s", stdout)
	}
}

func TestRun_ConvertError(t *testing.T) {
	code, _, stderr := runCLI(t, `{"resourceType":"Nope"}`, "convert", "-to", "xml", "-")
	if code != 1 {
		t.Fatalf("exit code = %d; want 1", code)
	}
	if !strings.Contains(stderr, "Error converting stdin") {
		t.Errorf("stderr = %q", stderr)
	}
}
