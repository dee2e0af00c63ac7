// Package config resolves command settings from flags, ROLLCALL_* environment
// variables, an optional config file and a .env file, in that precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "ROLLCALL"

// Agent configures one capture agent (one room, one camera).
type Agent struct {
	Backend         string        `mapstructure:"backend"`
	RoomID          string        `mapstructure:"room-id"`
	RosterScope     string        `mapstructure:"roster-scope"`
	Camera          string        `mapstructure:"camera"`
	Scale           float64       `mapstructure:"scale"`
	Tolerance       float64       `mapstructure:"tolerance"`
	Unknown         bool          `mapstructure:"unknown"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	MinDim          int           `mapstructure:"min-dim"`
	ReadRetry       time.Duration `mapstructure:"read-retry"`
	MaxReadFailures int           `mapstructure:"max-read-failures"`
	Preview         bool          `mapstructure:"preview"`
	ReportTimeout   time.Duration `mapstructure:"report-timeout"`
	Python          string        `mapstructure:"python"`
	WorkerScript    string        `mapstructure:"worker-script"`
	Model           string        `mapstructure:"model"`
	WorkerTimeout   time.Duration `mapstructure:"worker-timeout"`
	MetricsAddr     string        `mapstructure:"metrics-addr"`
}

// Roster scopes. All loads every enrolled student, including those never
// assigned to a room; Room loads only students assigned to the agent's room.
const (
	RosterAll  = "all"
	RosterRoom = "room"
)

// RosterFilter is the room id to filter the roster by, or "" for everyone.
func (a Agent) RosterFilter() string {
	if a.RosterScope == RosterRoom {
		return a.RoomID
	}
	return ""
}

// Validate checks ranges that flag parsing cannot express.
func (a Agent) Validate() error {
	switch {
	case a.Backend == "":
		return errors.New("--backend is required")
	case a.RoomID == "":
		return errors.New("--room-id is required")
	case a.Camera == "":
		return errors.New("--camera must not be empty")
	case a.Scale <= 0 || a.Scale > 1:
		return fmt.Errorf("--scale must be in (0, 1], got %v", a.Scale)
	case a.Tolerance < 0:
		return fmt.Errorf("--tolerance must be >= 0, got %v", a.Tolerance)
	case a.Cooldown < 0:
		return fmt.Errorf("--cooldown must be >= 0, got %v", a.Cooldown)
	case a.MinDim <= 0:
		return fmt.Errorf("--min-dim must be > 0, got %d", a.MinDim)
	case a.ReadRetry <= 0:
		return fmt.Errorf("--read-retry must be > 0, got %v", a.ReadRetry)
	case a.MaxReadFailures < 0:
		return fmt.Errorf("--max-read-failures must be >= 0, got %d", a.MaxReadFailures)
	case a.ReportTimeout <= 0:
		return fmt.Errorf("--report-timeout must be > 0, got %v", a.ReportTimeout)
	case a.WorkerTimeout < 0:
		return fmt.Errorf("--worker-timeout must be >= 0, got %v", a.WorkerTimeout)
	case a.RosterScope != "" && a.RosterScope != RosterAll && a.RosterScope != RosterRoom:
		return fmt.Errorf("--roster-scope must be %s or %s, got %q", RosterAll, RosterRoom, a.RosterScope)
	case a.Model != "" && a.Model != "hog" && a.Model != "cnn":
		return fmt.Errorf("--model must be hog or cnn, got %q", a.Model)
	}
	return nil
}

// Server configures the attendance store. An empty DatabaseURL falls back to
// the POSTGRES_* environment at connect time.
type Server struct {
	Addr        string   `mapstructure:"addr"`
	DatabaseURL string   `mapstructure:"db-url"`
	CORSOrigins []string `mapstructure:"cors-origins"`
}

func (s Server) Validate() error {
	if s.Addr == "" {
		return errors.New("--addr must not be empty")
	}
	return nil
}

// LoadDotEnv loads path (".env" when empty) into the process environment.
// A missing file is not an error; existing variables are not overridden.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// New returns a viper instance bound to flags and the environment, reading
// configFile when set. Flag names map to env vars as
// --room-id -> ROLLCALL_ROOM_ID.
func New(flags *pflag.FlagSet, configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configFile, err)
		}
	}
	return v, nil
}

func LoadAgent(v *viper.Viper) (Agent, error) {
	var a Agent
	if err := v.Unmarshal(&a); err != nil {
		return Agent{}, fmt.Errorf("decoding agent config: %w", err)
	}
	return a, a.Validate()
}

func LoadServer(v *viper.Viper) (Server, error) {
	var s Server
	if err := v.Unmarshal(&s); err != nil {
		return Server{}, fmt.Errorf("decoding server config: %w", err)
	}
	return s, s.Validate()
}
