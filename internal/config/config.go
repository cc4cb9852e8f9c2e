package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"dams-sync/internal/export"
	"dams-sync/internal/models"
)

// FileTemplate is a folder/file template pair
type FileTemplate struct {
	Folder string
	File   string
}

// TabularDestination configures the CSV artifact
type TabularDestination struct {
	Enabled bool
	FileTemplate
	Fields []string
}

// StructuredDestination configures the JSON artifact
type StructuredDestination struct {
	Enabled bool
	FileTemplate
}

// TimeConfig configures the sliding window
type TimeConfig struct {
	Period    int
	Frequency time.Duration
	Rounding  time.Duration
}

// LogConfig configures the structured logger
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ScheduleConfig configures the serve mode
type ScheduleConfig struct {
	Interval time.Duration
	Listen   string
}

// Config is the validated, typed settings of one deployment
type Config struct {
	Domain       string
	Source       map[string]interface{}
	NetrcFile    string
	RegistryFile string
	Time         TimeConfig
	Variables    []models.VariableSpec
	Ancillary    FileTemplate
	Tabular      TabularDestination
	Structured   StructuredDestination
	Templates    map[string]string
	Flags        models.RunFlags
	Log          LogConfig
	Schedule     ScheduleConfig
	Warnings     []string
}

type fileTemplateSection struct {
	FolderName string `mapstructure:"folder_name"`
	FileName   string `mapstructure:"file_name"`
}

type destinationSection struct {
	Active     *bool    `mapstructure:"active"`
	FolderName string   `mapstructure:"folder_name"`
	FileName   string   `mapstructure:"file_name"`
	Fields     []string `mapstructure:"fields"`
}

type variableSection struct {
	Name        string    `mapstructure:"name"`
	Tag         *string   `mapstructure:"tag"`
	Download    *bool     `mapstructure:"download"`
	Type        string    `mapstructure:"type"`
	Units       string    `mapstructure:"units"`
	ValidRange  []float64 `mapstructure:"valid_range"`
	MinCount    int       `mapstructure:"min_count"`
	ScaleFactor *float64  `mapstructure:"scale_factor"`
}

type settingsFile struct {
	Info struct {
		Domain string `mapstructure:"domain"`
	} `mapstructure:"info"`
	Credentials struct {
		NetrcFile string `mapstructure:"netrc_file"`
	} `mapstructure:"credentials"`
	Registry struct {
		FileName string `mapstructure:"file_name"`
	} `mapstructure:"registry"`
	Time struct {
		Period    int    `mapstructure:"time_period"`
		Frequency string `mapstructure:"time_frequency"`
		Rounding  string `mapstructure:"time_rounding"`
	} `mapstructure:"time"`
	Variables   []variableSection             `mapstructure:"variables"`
	Ancillary   fileTemplateSection           `mapstructure:"ancillary"`
	Destination map[string]destinationSection `mapstructure:"destination"`
	Template    map[string]string             `mapstructure:"template"`
	Flags       struct {
		UpdateAncillary   bool `mapstructure:"update_ancillary"`
		UpdateDestination bool `mapstructure:"update_destination"`
		CleanAncillary    bool `mapstructure:"clean_ancillary"`
	} `mapstructure:"flags"`
	Log struct {
		Level      string `mapstructure:"level"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`
	Schedule struct {
		Interval string `mapstructure:"interval"`
		Listen   string `mapstructure:"listen"`
	} `mapstructure:"schedule"`
}

// LoadConfig reads the settings file at path. Environment references
// ($VAR, ${VAR}) are expanded before parsing, and DAMSYNC_* variables
// override scalar keys (DAMSYNC_LOG_LEVEL for log.level).
func LoadConfig(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	v := viper.New()
	v.SetConfigType(configType(path))
	v.SetEnvPrefix("DAMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("schedule.interval", "1h")
	v.SetDefault("schedule.listen", ":9090")

	expanded := expandEnv(string(content))
	if err := v.ReadConfig(bytes.NewReader([]byte(expanded))); err != nil {
		return nil, fmt.Errorf("parse settings file %s: %w", path, err)
	}

	var raw settingsFile
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("decode settings file %s: %w", path, err)
	}

	// Null values carry meaning in the source section (null credentials are
	// looked up in the credential store), so it is read as a raw map instead
	// of going through Unmarshal, which drops them.
	source, _ := toStringMap(v.Get("source"))

	return build(raw, source)
}

// expandEnv substitutes $NAME and ${NAME} with set environment variables
// and leaves references to unset ones as written, so a literal dollar in a
// password survives.
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return "$" + name
	})
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func toStringMap(value interface{}) (map[string]interface{}, bool) {
	switch m := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	}
	return nil, false
}

// build validates every section in one pass and returns either the typed
// config or the full list of problems.
func build(raw settingsFile, source map[string]interface{}) (*Config, error) {
	var errs models.ConfigurationErrors
	fail := func(field, format string, args ...interface{}) {
		errs = append(errs, &models.ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	cfg := &Config{
		Domain:       raw.Info.Domain,
		Source:       source,
		NetrcFile:    raw.Credentials.NetrcFile,
		RegistryFile: raw.Registry.FileName,
		Templates:    raw.Template,
		Flags: models.RunFlags{
			UpdateAncillary:   raw.Flags.UpdateAncillary,
			UpdateDestination: raw.Flags.UpdateDestination,
			CleanAncillary:    raw.Flags.CleanAncillary,
		},
		Log: LogConfig{
			Level:      raw.Log.Level,
			File:       raw.Log.File,
			MaxSizeMB:  raw.Log.MaxSizeMB,
			MaxBackups: raw.Log.MaxBackups,
			MaxAgeDays: raw.Log.MaxAgeDays,
		},
		Schedule: ScheduleConfig{Listen: raw.Schedule.Listen},
	}

	if cfg.Templates == nil {
		cfg.Templates = map[string]string{}
	}
	if source == nil {
		fail("source", "section is missing")
	}

	// Time window
	cfg.Time.Period = raw.Time.Period
	if raw.Time.Period <= 0 {
		fail("time.time_period", "must be a positive number of steps, got %d", raw.Time.Period)
	}
	var err error
	if cfg.Time.Frequency, err = ParseFrequency(raw.Time.Frequency); err != nil {
		fail("time.time_frequency", "%v", err)
	}
	if cfg.Time.Rounding, err = ParseFrequency(raw.Time.Rounding); err != nil {
		fail("time.time_rounding", "%v", err)
	}
	if cfg.Schedule.Interval, err = ParseFrequency(raw.Schedule.Interval); err != nil {
		fail("schedule.interval", "%v", err)
	}

	// Variables
	if len(raw.Variables) == 0 {
		fail("variables", "at least one variable must be configured")
	}
	seen := make(map[string]bool, len(raw.Variables))
	for i, rv := range raw.Variables {
		field := fmt.Sprintf("variables[%d]", i)
		spec, problems := buildVariable(rv)
		for _, p := range problems {
			fail(field, "%s", p)
		}
		if spec.Name != "" && seen[spec.Name] {
			fail(field, "duplicate variable name %q", spec.Name)
		}
		seen[spec.Name] = true
		cfg.Variables = append(cfg.Variables, spec)
	}

	// Ancillary
	cfg.Ancillary = FileTemplate{Folder: raw.Ancillary.FolderName, File: raw.Ancillary.FileName}
	if cfg.Ancillary.Folder == "" || cfg.Ancillary.File == "" {
		fail("ancillary", "folder_name and file_name are required")
	}

	// Destinations
	if csv, ok := raw.Destination["csv"]; ok {
		cfg.Tabular = TabularDestination{
			Enabled:      csv.Active == nil || *csv.Active,
			FileTemplate: FileTemplate{Folder: csv.FolderName, File: csv.FileName},
			Fields:       csv.Fields,
		}
		if csv.FolderName == "" || csv.FileName == "" {
			fail("destination.csv", "folder_name and file_name are required")
		}
		if len(cfg.Tabular.Fields) == 0 {
			cfg.Tabular.Fields = append([]string(nil), models.DefaultFields...)
		}
		for _, field := range cfg.Tabular.Fields {
			if !knownColumn(field) {
				fail("destination.csv.fields", "unknown column %q", field)
			}
		}
	} else {
		fail("destination.csv", "section is required: its paths drive the existence checks")
	}

	if js, ok := raw.Destination["json"]; ok {
		cfg.Structured = StructuredDestination{
			Enabled:      js.Active == nil || *js.Active,
			FileTemplate: FileTemplate{Folder: js.FolderName, File: js.FileName},
		}
		if js.FolderName == "" || js.FileName == "" {
			fail("destination.json", "folder_name and file_name are required")
		}
		if cfg.Structured.Enabled {
			for _, column := range export.StructuredColumns {
				if !contains(cfg.Tabular.Fields, column) {
					fail("destination.json", "needs column %q in destination.csv.fields", column)
				}
			}
		}
	} else {
		cfg.Warnings = append(cfg.Warnings, "destination.json is not configured: structured files will not be written")
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return cfg, nil
}

func buildVariable(rv variableSection) (models.VariableSpec, []string) {
	var problems []string

	spec := models.VariableSpec{
		Name:        rv.Name,
		Tag:         rv.Tag,
		Download:    rv.Download == nil || *rv.Download,
		TimeMode:    models.TimeMode(rv.Type),
		Units:       rv.Units,
		MinCount:    rv.MinCount,
		ScaleFactor: 1,
		ValidRange:  models.ValueRange{Min: math.Inf(-1), Max: math.Inf(1)},
	}

	if spec.Name == "" {
		problems = append(problems, "name is required")
	}
	if spec.TimeMode == "" {
		spec.TimeMode = models.TimeModeInstantaneous
	}
	if !spec.TimeMode.Valid() {
		problems = append(problems, fmt.Sprintf("unknown type %q", rv.Type))
	}
	if rv.ScaleFactor != nil {
		spec.ScaleFactor = *rv.ScaleFactor
	}
	if spec.ScaleFactor == 0 {
		problems = append(problems, "scale_factor must not be zero")
	}
	if spec.MinCount < 0 {
		problems = append(problems, "min_count must not be negative")
	}
	switch len(rv.ValidRange) {
	case 0:
	case 2:
		spec.ValidRange = models.ValueRange{Min: rv.ValidRange[0], Max: rv.ValidRange[1]}
		if spec.ValidRange.Min > spec.ValidRange.Max {
			problems = append(problems, "valid_range min is greater than max")
		}
	default:
		problems = append(problems, "valid_range must hold exactly two values")
	}

	return spec, problems
}

func knownColumn(name string) bool {
	return contains(models.AllColumns, name)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// ParseFrequency accepts Go durations ("15m", "1h") and the pandas style
// aliases used by older settings files ("H", "D", "15min", "3H").
func ParseFrequency(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration is empty")
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("duration %q must be positive", s)
		}
		return d, nil
	}

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n := 1
	if i > 0 {
		var err error
		if n, err = strconv.Atoi(s[:i]); err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
	}

	var unit time.Duration
	switch strings.ToLower(s[i:]) {
	case "s":
		unit = time.Second
	case "t", "min":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(n) * unit, nil
}
