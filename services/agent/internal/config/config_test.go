package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const baseConfig = `
shimURL: "http://localhost:8080"
email: "field@fieldsync.test"
password: "secret123"
pollInterval: "15s"
route:
  - {lat: 6.5244, lng: 3.3792, accuracy: 12}
  - {lat: 6.5250, lng: 3.3800, accuracy: 9}
`

func TestLoadDefaultsStateDir(t *testing.T) {
	t.Setenv("AGENT_PASSWORD", "from-env")
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StateDir != ".fieldsync-agent" {
		t.Fatalf("stateDir = %q", cfg.StateDir)
	}
	if cfg.Password != "from-env" {
		t.Fatalf("password override not applied")
	}
	if len(cfg.Route) != 2 || cfg.Route[1].Accuracy != 9 {
		t.Fatalf("route = %+v", cfg.Route)
	}
}

func TestSecureOrigins(t *testing.T) {
	cases := map[string]bool{
		"http://localhost:8080":     true,
		"http://127.0.0.1:8080":     true,
		"https://field.example.com": true,
		"http://field.example.com":  false,
	}
	for raw, want := range cases {
		if got := (FileConfig{ShimURL: raw}).Secure(); got != want {
			t.Fatalf("Secure(%s) = %v, want %v", raw, got, want)
		}
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"no route", strings.Split(baseConfig, "route:")[0], "route"},
		{"bad point", strings.Replace(baseConfig, "lat: 6.5244", "lat: 96", 1), "out of range"},
		{"bad interval", strings.Replace(baseConfig, `"15s"`, `"often"`, 1), "pollInterval"},
		{"bad url", strings.Replace(baseConfig, "http://localhost:8080", "localhost", 1), "shimURL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q error, got %v", tc.want, err)
			}
		})
	}
}
