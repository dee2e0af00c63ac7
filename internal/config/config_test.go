package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func agentFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	fs.String("backend", "", "")
	fs.String("room-id", "", "")
	fs.String("roster-scope", "all", "")
	fs.String("camera", "0", "")
	fs.Float64("scale", 0.25, "")
	fs.Float64("tolerance", 0.5, "")
	fs.Bool("unknown", false, "")
	fs.Duration("cooldown", 10*time.Second, "")
	fs.Int("min-dim", 128, "")
	fs.Duration("read-retry", 100*time.Millisecond, "")
	fs.Int("max-read-failures", 0, "")
	fs.Bool("preview", true, "")
	fs.Duration("report-timeout", 5*time.Second, "")
	fs.String("python", "python3", "")
	fs.String("worker-script", "python/worker.py", "")
	fs.String("model", "hog", "")
	fs.Duration("worker-timeout", 30*time.Second, "")
	fs.String("metrics-addr", "", "")
	return fs
}

func TestLoadAgentDefaults(t *testing.T) {
	fs := agentFlags()
	if err := fs.Parse([]string{"--backend", "http://store:8000", "--room-id", "R1"}); err != nil {
		t.Fatal(err)
	}
	v, err := New(fs, "")
	if err != nil {
		t.Fatal(err)
	}
	a, err := LoadAgent(v)
	if err != nil {
		t.Fatalf("LoadAgent failed: %v", err)
	}

	if a.Scale != 0.25 || a.Tolerance != 0.5 || a.Cooldown != 10*time.Second {
		t.Errorf("Unexpected defaults: %+v", a)
	}
	if a.Unknown || !a.Preview || a.Camera != "0" || a.MaxReadFailures != 0 {
		t.Errorf("Unexpected defaults: %+v", a)
	}
	if a.ReportTimeout != 5*time.Second {
		t.Errorf("ReportTimeout = %v, want 5s", a.ReportTimeout)
	}
	if a.RosterScope != RosterAll || a.RosterFilter() != "" {
		t.Errorf("Roster must load every student by default, got scope %q filter %q", a.RosterScope, a.RosterFilter())
	}
}

func TestRosterFilter(t *testing.T) {
	tests := []struct {
		scope string
		want  string
	}{
		{"", ""},
		{RosterAll, ""},
		{RosterRoom, "R1"},
	}
	for _, tt := range tests {
		a := Agent{RoomID: "R1", RosterScope: tt.scope}
		if got := a.RosterFilter(); got != tt.want {
			t.Errorf("RosterFilter() with scope %q = %q, want %q", tt.scope, got, tt.want)
		}
	}
}

func TestEnvironmentFillsUnsetFlags(t *testing.T) {
	t.Setenv("ROLLCALL_BACKEND", "http://env:8000")
	t.Setenv("ROLLCALL_ROOM_ID", "R9")
	t.Setenv("ROLLCALL_COOLDOWN", "30s")

	fs := agentFlags()
	if err := fs.Parse([]string{"--room-id", "R1"}); err != nil {
		t.Fatal(err)
	}
	v, err := New(fs, "")
	if err != nil {
		t.Fatal(err)
	}
	a, err := LoadAgent(v)
	if err != nil {
		t.Fatal(err)
	}
	if a.Backend != "http://env:8000" {
		t.Errorf("Backend = %q, want value from env", a.Backend)
	}
	if a.RoomID != "R1" {
		t.Errorf("RoomID = %q, explicit flag must win over env", a.RoomID)
	}
	if a.Cooldown != 30*time.Second {
		t.Errorf("Cooldown = %v, want 30s", a.Cooldown)
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollcall.yaml")
	body := "backend: http://file:8000\nroom-id: R2\nunknown: true\nscale: 0.5\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := New(agentFlags(), path)
	if err != nil {
		t.Fatal(err)
	}
	a, err := LoadAgent(v)
	if err != nil {
		t.Fatal(err)
	}
	if a.RoomID != "R2" || !a.Unknown || a.Scale != 0.5 {
		t.Errorf("Config file not applied: %+v", a)
	}
}

func TestMissingConfigFile(t *testing.T) {
	if _, err := New(agentFlags(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected an error for a missing config file")
	}
}

func TestAgentValidate(t *testing.T) {
	valid := Agent{
		Backend: "http://x", RoomID: "R1", Camera: "0", Scale: 0.25, Tolerance: 0.5,
		Cooldown: 10 * time.Second, MinDim: 128, ReadRetry: 100 * time.Millisecond,
		ReportTimeout: 5 * time.Second, Model: "hog",
	}

	tests := []struct {
		name    string
		mutate  func(*Agent)
		wantErr string
	}{
		{"Valid", func(a *Agent) {}, ""},
		{"Missing backend", func(a *Agent) { a.Backend = "" }, "--backend"},
		{"Missing room", func(a *Agent) { a.RoomID = "" }, "--room-id"},
		{"Zero scale", func(a *Agent) { a.Scale = 0 }, "--scale"},
		{"Scale above one", func(a *Agent) { a.Scale = 1.5 }, "--scale"},
		{"Scale of one", func(a *Agent) { a.Scale = 1 }, ""},
		{"Negative tolerance", func(a *Agent) { a.Tolerance = -0.1 }, "--tolerance"},
		{"Zero tolerance", func(a *Agent) { a.Tolerance = 0 }, ""},
		{"Negative read failures", func(a *Agent) { a.MaxReadFailures = -1 }, "--max-read-failures"},
		{"Bad model", func(a *Agent) { a.Model = "yolo" }, "--model"},
		{"Room roster", func(a *Agent) { a.RosterScope = RosterRoom }, ""},
		{"Bad roster scope", func(a *Agent) { a.RosterScope = "building" }, "--roster-scope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid
			tt.mutate(&a)
			err := a.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadServer(t *testing.T) {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.String("addr", ":8000", "")
	fs.String("db-url", "", "")
	fs.StringSlice("cors-origins", []string{"*"}, "")

	t.Setenv("ROLLCALL_DB_URL", "postgres://localhost/rollcall")
	v, err := New(fs, "")
	if err != nil {
		t.Fatal(err)
	}
	s, err := LoadServer(v)
	if err != nil {
		t.Fatalf("LoadServer failed: %v", err)
	}
	if s.Addr != ":8000" || s.DatabaseURL != "postgres://localhost/rollcall" {
		t.Errorf("Unexpected server config: %+v", s)
	}
	if len(s.CORSOrigins) != 1 || s.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins = %v, want [*]", s.CORSOrigins)
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("Missing .env should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("ROLLCALL_DOTENV_PROBE=yes\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ROLLCALL_DOTENV_PROBE", "")
	os.Unsetenv("ROLLCALL_DOTENV_PROBE")
	if err := LoadDotEnv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("ROLLCALL_DOTENV_PROBE"); got != "yes" {
		t.Errorf("ROLLCALL_DOTENV_PROBE = %q, want yes", got)
	}
}
