package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
	// Embedded zone database so timezone validation works on minimal hosts.
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"portalcal/internal/calendar"
	"portalcal/internal/schedule"
)

const dateLayout = "2006-01-02"

// FeedConfig describes a single ICS subscription merged into the
// calendar, e.g. the university's public holiday feed.
type FeedConfig struct {
	URL string `yaml:"url" json:"url" validate:"required,url"`
	// ID is an internal identifier used for de-dup and logging.
	ID   string `yaml:"id" json:"id" validate:"required"`
	Name string `yaml:"name" json:"name"`
}

// APIConfig points at the portal REST API.
type APIConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url" validate:"omitempty,url"`
	// TokenEnv names the environment variable holding the bearer token.
	// The token itself is never written to the config file.
	TokenEnv string `yaml:"token_env" json:"token_env" validate:"required"`
	// StudentID skips the /profile lookup when set.
	StudentID string `yaml:"student_id" json:"student_id"`
}

// DateRange is an inclusive YYYY-MM-DD range.
type DateRange struct {
	Name  string `yaml:"name" json:"name"`
	Start string `yaml:"start" json:"start" validate:"omitempty,datetime=2006-01-02"`
	End   string `yaml:"end" json:"end" validate:"omitempty,datetime=2006-01-02"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"password" validate:"required"`
}

// SnapshotConfig controls the headless-browser PNG of the calendar page.
type SnapshotConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Width   int    `yaml:"width" json:"width" validate:"gte=0"`
	Height  int    `yaml:"height" json:"height" validate:"gte=0"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen" validate:"required"`

	// Timezone is the IANA zone calendar days are computed in.
	Timezone string `yaml:"timezone" json:"timezone" validate:"required"`

	LogLevel string `yaml:"log_level" json:"log_level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`

	// RefreshCron is a 5-field cron schedule for portal refreshes.
	RefreshCron string `yaml:"refresh" json:"refresh" validate:"required"`

	API APIConfig `yaml:"api" json:"api"`

	// Term bounds schedule materialization. Empty means no weekly
	// schedules are expanded.
	Term     DateRange   `yaml:"term" json:"term"`
	Holidays []DateRange `yaml:"holidays" json:"holidays" validate:"dive"`

	// Schedules are extra weekly slots merged with the portal's.
	Schedules []schedule.ClassSchedule `yaml:"schedules" json:"schedules"`

	Feeds []FeedConfig `yaml:"feeds" json:"feeds" validate:"dive"`

	// Palette overrides the default course palette when non-empty.
	Palette []calendar.Color `yaml:"palette,omitempty" json:"palette,omitempty" validate:"dive"`

	// AttendancePerPage is the attendance log page size.
	AttendancePerPage int `yaml:"attendance_per_page" json:"attendance_per_page" validate:"gte=0,lte=500"`

	// DataDir holds the SQLite snapshot and the HTTP cache.
	DataDir string `yaml:"data_dir" json:"data_dir" validate:"required"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`
}

var validate = validator.New()

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:            "127.0.0.1:8080",
		Timezone:          "Asia/Bangkok",
		LogLevel:          "info",
		RefreshCron:       "*/30 * * * *",
		API:               APIConfig{TokenEnv: "PORTALCAL_TOKEN"},
		Holidays:          []DateRange{},
		Schedules:         []schedule.ClassSchedule{},
		Feeds:             []FeedConfig{},
		AttendancePerPage: 10,
		DataDir:           "./var",
		Snapshot:          SnapshotConfig{Width: 1280, Height: 960},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.API.TokenEnv == "" {
		c.API.TokenEnv = d.API.TokenEnv
	}
	if c.Holidays == nil {
		c.Holidays = []DateRange{}
	}
	if c.Schedules == nil {
		c.Schedules = []schedule.ClassSchedule{}
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.AttendancePerPage <= 0 {
		c.AttendancePerPage = d.AttendancePerPage
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Snapshot.Width <= 0 {
		c.Snapshot.Width = d.Snapshot.Width
	}
	if c.Snapshot.Height <= 0 {
		c.Snapshot.Height = d.Snapshot.Height
	}
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = filepath.Join(c.DataDir, "calendar.png")
	}
}

// Validate checks field constraints, the timezone, and that term and
// holiday ranges are ordered.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	if _, ok, err := c.TermRange(); err != nil {
		return err
	} else if !ok && len(c.Schedules) > 0 {
		return errors.New("config: schedules require a term")
	}
	if _, err := c.HolidayList(); err != nil {
		return err
	}
	for _, s := range c.Schedules {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// TermRange parses the configured term. ok is false when no term is set.
func (c *Config) TermRange() (term schedule.Term, ok bool, err error) {
	if c.Term.Start == "" && c.Term.End == "" {
		return schedule.Term{}, false, nil
	}
	start, end, err := parseRange(c.Term)
	if err != nil {
		return schedule.Term{}, false, fmt.Errorf("config: term: %w", err)
	}
	return schedule.Term{Name: c.Term.Name, Start: start, End: end}, true, nil
}

// HolidayList parses the configured holidays. A holiday with no end is a
// single day.
func (c *Config) HolidayList() ([]schedule.Holiday, error) {
	out := make([]schedule.Holiday, 0, len(c.Holidays))
	for _, h := range c.Holidays {
		if h.End == "" {
			h.End = h.Start
		}
		start, end, err := parseRange(h)
		if err != nil {
			return nil, fmt.Errorf("config: holiday %q: %w", h.Name, err)
		}
		out = append(out, schedule.Holiday{Name: h.Name, Start: start, End: end})
	}
	return out, nil
}

// Colors returns the palette override, or the default palette.
func (c *Config) Colors() []calendar.Color {
	if len(c.Palette) == 0 {
		return calendar.Palette
	}
	return c.Palette
}

func parseRange(r DateRange) (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, r.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	end, err := time.Parse(dateLayout, r.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is before start %s", r.End, r.Start)
	}
	return start, end, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read, defaults are filled in and the result is
//     validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			cfg.Normalize()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file + rename, with
// 0600 permissions. The parent directory is created (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".portalcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
