package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd("1.2.3")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionShort(t *testing.T) {
	out, err := run(t, "version", "--short")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "1.2.3" {
		t.Errorf("output = %q", out)
	}
}

func TestVersionJSON(t *testing.T) {
	out, err := run(t, "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if info["version"] != "1.2.3" || info["goVersion"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestServeRequiresEndpoint(t *testing.T) {
	t.Setenv("ASSETCONSOLE_BACKEND_ENDPOINT", "")
	t.Chdir(t.TempDir())

	_, err := run(t, "serve")
	if err == nil || !strings.Contains(err.Error(), "backend.endpoint") {
		t.Errorf("serve error = %v", err)
	}
}
