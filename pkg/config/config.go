package config

import (
	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/12rambau/pypackage-skeleton/tools/pkg/docsconf"
)

// Config describes all configuration options
type Config struct {
	TaskFile string `default:"" usage:"Task script to load; searched upwards from the working directory if empty"`
	EnvDir   string `default:".nox" usage:"Directory holding one virtualenv per task"`
	Python   string `default:"python3" usage:"Interpreter used to create the virtualenvs"`
	Citation string `default:"CITATION.cff" usage:"Citation file updated by release-date"`
	Log      struct {
		Level string `default:"info"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
	Docs struct {
		Project    string `default:"Pypackage Skeleton"`
		Author     string `default:"Pierrick Rambaud"`
		Release    string `default:"0.0.0"`
		Package    string `default:"pypackage_skeleton" usage:"Python package documented by autoapi"`
		GithubUser string `default:"12rambau"`
		GithubRepo string `default:"pypackage-skeleton"`
		FirstYear  int    `default:"2023" usage:"First year of the copyright range"`
		Ignore     string `default:".warnings-ignore" usage:"File listing accepted documentation warnings"`
	}
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object. Values are read from
// skeleton.toml in the working directory and SKELETON_* environment variables.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	if len(files) == 0 {
		files = []string{"skeleton.toml"}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SKELETON",
		SkipFlags: true,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the configuration and validates it
func Load(files ...string) (*Config, error) {
	cfg, loader := Loader(files...)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.EnvDir == "" {
		return eris.New(`env_dir must not be empty`)
	}

	if cfg.Python == "" {
		return eris.New(`python must not be empty`)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// Metadata returns the documentation metadata configured for this project
func (cfg *Config) Metadata() docsconf.Metadata {
	return docsconf.Metadata{
		Project:    cfg.Docs.Project,
		Author:     cfg.Docs.Author,
		Release:    cfg.Docs.Release,
		Package:    cfg.Docs.Package,
		GithubUser: cfg.Docs.GithubUser,
		GithubRepo: cfg.Docs.GithubRepo,
		FirstYear:  cfg.Docs.FirstYear,
	}
}
