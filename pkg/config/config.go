// Package config loads the run options: command-line flags first, then
// FIELDETL_* environment variables, then an optional YAML file, then the
// flag defaults.
package config

import (
	"strings"

	"github.com/hazyhaar/fieldetl/pkg/bundle"
	"github.com/hazyhaar/fieldetl/pkg/etl"
	"github.com/hazyhaar/fieldetl/pkg/protocols"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FIELDETL"

// Config is the fixed option set of a run.
type Config struct {
	Protocol       string `mapstructure:"protocol"`
	BackendDB      string `mapstructure:"backend-db"`
	FrontendDB     string `mapstructure:"frontend-db"`
	Year           int    `mapstructure:"year"`
	BaseURL        string `mapstructure:"base-url"`
	ObjectID       string `mapstructure:"object-id"`
	CredentialMode string `mapstructure:"credential-mode"`
	Token          string `mapstructure:"token"`
	AppID          string `mapstructure:"app-id"`
	User           string `mapstructure:"user"`
	OutputDir      string `mapstructure:"output-dir"`
	Download       bool   `mapstructure:"download"`
	// Archive is the local bundle used when Download is off. An s3:// URI
	// is fetched first.
	Archive              string `mapstructure:"archive"`
	Encoding             string `mapstructure:"encoding"`
	OtherToken           string `mapstructure:"other-token"`
	TerminateConnections bool   `mapstructure:"terminate-connections"`
	S3Region             string `mapstructure:"s3-region"`
	S3Endpoint           string `mapstructure:"s3-endpoint"`
	PublishDir           string `mapstructure:"publish-dir"`
}

// Flags registers every option on fs with its default.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "YAML file with option values")
	fs.StringP("protocol", "p", "", "protocol to run ("+strings.Join(protocolNames(), ", ")+")")
	fs.String("backend-db", "", "target database file")
	fs.String("frontend-db", "", "front-end database file, if any")
	fs.IntP("year", "y", 0, "survey year")
	fs.String("base-url", "", "form service base URL")
	fs.String("object-id", "", "form service object id of the survey")
	fs.String("credential-mode", bundle.CredentialToken, "token or ambient")
	fs.String("token", "", "access token for the token credential mode")
	fs.String("app-id", "", "application id sent with downloads")
	fs.StringP("user", "u", "", "user recorded on loaded rows")
	fs.StringP("output-dir", "o", ".", "directory for logs, side files and metrics")
	fs.Bool("download", true, "download the bundle on this run")
	fs.String("archive", "", "local or s3:// bundle archive used when download is off")
	fs.String("encoding", "", "character encoding of CSV files")
	fs.String("other-token", etl.DefaultOtherToken, "observer code that defers to the free-text field")
	fs.Bool("terminate-connections", true, "kill other processes holding the database open")
	fs.String("s3-region", "", "region for s3:// archives")
	fs.String("s3-endpoint", "", "S3-compatible endpoint for s3:// archives")
	fs.String("publish-dir", "", "directory the nest features are staged in; empty disables publishing")
}

// Load resolves the options registered by Flags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(err, "bind flags")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read configuration file %s", path)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode configuration")
	}
	return &cfg, nil
}

// Validate rejects unknown protocols and credential modes and checks that
// the bundle source is complete.
func (c *Config) Validate() error {
	if _, err := protocols.Get(c.Protocol); err != nil {
		return err
	}
	if c.BackendDB == "" {
		return etl.Failf(etl.UnknownOption, "config", "backend-db is required")
	}
	if c.Year <= 0 {
		return etl.Failf(etl.UnknownOption, "config", "year must be positive, got %d", c.Year)
	}
	if !c.Download {
		if c.Archive == "" {
			return etl.Failf(etl.UnknownOption, "config", "archive is required when download is off")
		}
		return nil
	}
	if c.ObjectID == "" {
		return etl.Failf(etl.UnknownOption, "config", "object-id is required when download is on")
	}
	if err := c.Exporter().Validate(); err != nil {
		return etl.Fail(etl.UnknownOption, "config", err)
	}
	return nil
}

// Engine returns the engine configuration of the run.
func (c *Config) Engine() etl.Config {
	return etl.Config{
		Protocol:   c.Protocol,
		BackendDB:  c.BackendDB,
		FrontendDB: c.FrontendDB,
		Year:       c.Year,
		User:       c.User,
		OutputDir:  c.OutputDir,
		OtherToken: c.OtherToken,
	}
}

// Exporter returns the bundle downloader for the configured service.
func (c *Config) Exporter() *bundle.HTTPExporter {
	return &bundle.HTTPExporter{
		BaseURL: c.BaseURL,
		Mode:    c.CredentialMode,
		Token:   c.Token,
		AppID:   c.AppID,
	}
}

// S3 returns the object storage settings for s3:// archives.
func (c *Config) S3() bundle.S3Config {
	return bundle.S3Config{Region: c.S3Region, Endpoint: c.S3Endpoint, PathStyle: c.S3Endpoint != ""}
}

func protocolNames() []string {
	out := make([]string, len(protocols.Known))
	for i, id := range protocols.Known {
		out[i] = string(id)
	}
	return out
}
