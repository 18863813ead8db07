package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/micro-nova/checkin-go/internal/models"
)

// StationConfig describes one reader station. An empty Device means the
// station takes the first free reader found by detection.
type StationConfig struct {
	Name   string `yaml:"name" env:"NAME"`
	Device string `yaml:"device" env:"DEVICE"`
}

// Daemon is the configuration of the check-in daemon.
//
// Values are layered: defaults, then the YAML file, then .env and CHECKIN_*
// environment variables, then explicitly set command-line flags.
type Daemon struct {
	Addr         string          `yaml:"addr" env:"CHECKIN_ADDR"`
	DataDir      string          `yaml:"data_dir" env:"CHECKIN_DATA_DIR"`
	Storage      string          `yaml:"storage" env:"CHECKIN_STORAGE"`
	Mock         bool            `yaml:"mock" env:"CHECKIN_MOCK"`
	Debug        bool            `yaml:"debug" env:"CHECKIN_DEBUG"`
	StationCode  int             `yaml:"station_code" env:"CHECKIN_STATION_CODE"`
	Baud         int             `yaml:"baud" env:"CHECKIN_BAUD"`
	RateLimit    int             `yaml:"rate_limit" env:"CHECKIN_RATE_LIMIT"`
	Zeroconf     bool            `yaml:"zeroconf" env:"CHECKIN_ZEROCONF"`
	InhibitSleep bool            `yaml:"inhibit_sleep" env:"CHECKIN_INHIBIT_SLEEP"`
	Backup       bool            `yaml:"backup" env:"CHECKIN_BACKUP"`
	StationCount int             `yaml:"station_count" env:"CHECKIN_STATIONS"`
	Stations     []StationConfig `yaml:"stations" envPrefix:"CHECKIN_STATION_"`
}

// DefaultDaemon returns the built-in configuration.
func DefaultDaemon() Daemon {
	return Daemon{
		Addr:         ":8080",
		Storage:      StorageJSON,
		StationCode:  10,
		RateLimit:    120,
		Zeroconf:     true,
		Backup:       true,
		StationCount: models.DefaultStationCount,
	}
}

// LoadFile overlays the YAML file at path onto d. Keys missing from the file
// keep their current values.
func (d *Daemon) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, d); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// LoadEnv loads dotenv (if the file exists) and overlays CHECKIN_* variables
// onto d.
func (d *Daemon) LoadEnv(dotenv string) error {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", dotenv, err)
		}
	}
	if err := env.Parse(d); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

// ResolvedStations returns the configured stations, generating default
// names when only a count was given.
func (d Daemon) ResolvedStations() []StationConfig {
	if len(d.Stations) > 0 {
		out := make([]StationConfig, len(d.Stations))
		for i, st := range d.Stations {
			if st.Name == "" {
				st.Name = models.DefaultStationName(i)
			}
			out[i] = st
		}
		return out
	}
	out := make([]StationConfig, d.StationCount)
	for i := range out {
		out[i] = StationConfig{Name: models.DefaultStationName(i)}
	}
	return out
}

// Validate checks value ranges.
func (d Daemon) Validate() error {
	if d.Storage != StorageJSON && d.Storage != StorageSQLite {
		return fmt.Errorf("config: storage must be %q or %q, got %q", StorageJSON, StorageSQLite, d.Storage)
	}
	if d.StationCode < 1 || d.StationCode > 1023 {
		return fmt.Errorf("config: station_code must be in [1, 1023], got %d", d.StationCode)
	}
	switch d.Baud {
	case 0, 4800, 38400:
	default:
		return fmt.Errorf("config: baud must be 4800 or 38400 (0 = auto), got %d", d.Baud)
	}
	if d.StationCount < 0 {
		return fmt.Errorf("config: station_count must not be negative, got %d", d.StationCount)
	}
	if d.RateLimit < 0 {
		return fmt.Errorf("config: rate_limit must not be negative, got %d", d.RateLimit)
	}
	seen := make(map[string]bool)
	for _, st := range d.Stations {
		if st.Device == "" {
			continue
		}
		if seen[st.Device] {
			return fmt.Errorf("config: device %s is assigned to more than one station", st.Device)
		}
		seen[st.Device] = true
	}
	return nil
}

// Flags is the daemon's command line.
type Flags struct {
	fs         *pflag.FlagSet
	vals       Daemon
	ConfigPath string
}

// NewFlags registers the daemon flags on a new FlagSet.
func NewFlags(name string) *Flags {
	f := &Flags{fs: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	def := DefaultDaemon()
	f.fs.StringVar(&f.ConfigPath, "config", os.Getenv("CHECKIN_CONFIG"), "YAML configuration file")
	f.fs.StringVar(&f.vals.Addr, "addr", def.Addr, "HTTP listen address")
	f.fs.StringVar(&f.vals.DataDir, "data-dir", "", "settings directory (default: ~/.config/checkin)")
	f.fs.StringVar(&f.vals.Storage, "storage", def.Storage, "settings backend: json or sqlite")
	f.fs.BoolVar(&f.vals.Mock, "mock", false, "use simulated card readers")
	f.fs.BoolVar(&f.vals.Debug, "debug", false, "enable debug logging")
	f.fs.IntVar(&f.vals.StationCode, "station-code", def.StationCode, "SportIdent station code written to each reader")
	f.fs.IntVar(&f.vals.Baud, "baud", 0, "reader baud rate (0 tries 38400 then 4800)")
	f.fs.IntVar(&f.vals.RateLimit, "rate-limit", def.RateLimit, "mutating API requests per minute per client (0 disables)")
	f.fs.IntVarP(&f.vals.StationCount, "stations", "n", def.StationCount, "number of reader stations")
	f.fs.BoolVar(&f.vals.Zeroconf, "zeroconf", def.Zeroconf, "advertise the API over mDNS")
	f.fs.BoolVar(&f.vals.InhibitSleep, "inhibit-sleep", false, "hold a logind sleep inhibitor while a station is active")
	f.fs.BoolVar(&f.vals.Backup, "backup", def.Backup, "take a daily backup of the data directory")
	return f
}

// FlagSet exposes the underlying pflag set (for usage output).
func (f *Flags) FlagSet() *pflag.FlagSet { return f.fs }

// Parse parses command-line arguments.
func (f *Flags) Parse(args []string) error { return f.fs.Parse(args) }

// Apply copies every explicitly set flag onto d.
func (f *Flags) Apply(d *Daemon) {
	set := func(name string, apply func()) {
		if f.fs.Changed(name) {
			apply()
		}
	}
	set("addr", func() { d.Addr = f.vals.Addr })
	set("data-dir", func() { d.DataDir = f.vals.DataDir })
	set("storage", func() { d.Storage = f.vals.Storage })
	set("mock", func() { d.Mock = f.vals.Mock })
	set("debug", func() { d.Debug = f.vals.Debug })
	set("station-code", func() { d.StationCode = f.vals.StationCode })
	set("baud", func() { d.Baud = f.vals.Baud })
	set("rate-limit", func() { d.RateLimit = f.vals.RateLimit })
	set("stations", func() {
		d.StationCount = f.vals.StationCount
		d.Stations = nil
	})
	set("zeroconf", func() { d.Zeroconf = f.vals.Zeroconf })
	set("inhibit-sleep", func() { d.InhibitSleep = f.vals.InhibitSleep })
	set("backup", func() { d.Backup = f.vals.Backup })
}

// LoadDaemon resolves the full daemon configuration from args, the optional
// config file, the environment and the defaults.
func LoadDaemon(args []string) (Daemon, error) {
	flags := NewFlags("checkin")
	if err := flags.Parse(args); err != nil {
		return Daemon{}, err
	}

	cfg := DefaultDaemon()
	if flags.ConfigPath != "" {
		if err := cfg.LoadFile(flags.ConfigPath); err != nil {
			return Daemon{}, err
		}
	}
	if err := cfg.LoadEnv(".env"); err != nil {
		return Daemon{}, err
	}
	flags.Apply(&cfg)

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Daemon{}, fmt.Errorf("config: cannot determine home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".config", "checkin")
	}
	if err := cfg.Validate(); err != nil {
		return Daemon{}, err
	}
	return cfg, nil
}
