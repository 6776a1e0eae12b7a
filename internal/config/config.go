// Package config provides functionality for managing configuration options
// for the application using command-line flags, environment variables and
// a YAML or JSON config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/atinyakov/passkeeper/internal/codec"
	"github.com/atinyakov/passkeeper/internal/models"
)

// ErrInvalid is returned by Settings for unusable option values.
var ErrInvalid = errors.New("invalid configuration")

// Reserved account identifiers. Logins for this account are kept in the
// fallback storage instead of the password store.
const (
	ReservedHostname = "chrome://FirefoxAccounts"
	ReservedRealm    = "Firefox Accounts credentials"
)

// Options holds the configuration values for the application.
type Options struct {
	// Addr defines the server's listening address (ip:port).
	Addr string `yaml:"addr"`

	// Pass is the password store command.
	Pass string `yaml:"pass"`

	// Realm is the store directory holding every login.
	Realm string `yaml:"realm"`
	// RealmAppendProduct nests the realm one level deeper, under Product.
	RealmAppendProduct bool   `yaml:"realm_append_product"`
	Product            string `yaml:"product"`

	Fuzzy          bool `yaml:"fuzzy"`
	SaveAsUsername bool `yaml:"save_as_username"`

	// Cache is the lifetime of cached records in seconds; 0 disables caching.
	Cache int `yaml:"cache"`

	// StripHostnames is a comma list of hostname prefixes, e.g. "www".
	StripHostnames string `yaml:"strip_hostnames"`

	MapUsername      string `yaml:"map_username"`
	MapHostname      string `yaml:"map_hostname"`
	MapFormSubmitURL string `yaml:"map_formsubmiturl"`
	MapHTTPRealm     string `yaml:"map_httprealm"`
	MapUsernameField string `yaml:"map_usernamefield"`
	MapPasswordField string `yaml:"map_passwordfield"`

	// FallbackDSN selects PostgreSQL fallback storage when set.
	FallbackDSN string `yaml:"fallback_dsn"`
	// FallbackFile is the JSON fallback storage used without a DSN.
	FallbackFile string `yaml:"fallback_file"`

	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
	TLSCA   string `yaml:"tls_ca"`

	LogLevel string `yaml:"log_level"`

	// Config is the path to the Config file.
	Config string `yaml:"-"`

	args      []string
	lookupEnv func(string) (string, bool)
}

// Defaults returns the options used when no source sets a value.
func Defaults() *Options {
	return &Options{
		Addr:             "localhost:8443",
		Pass:             "pass",
		Realm:            "passmanager",
		Product:          "passkeeper",
		Fuzzy:            true,
		Cache:            60,
		StripHostnames:   "www",
		MapUsername:      codec.DefaultLabels[models.Username],
		MapHostname:      codec.DefaultLabels[models.Hostname],
		MapFormSubmitURL: codec.DefaultLabels[models.FormSubmitURL],
		MapHTTPRealm:     codec.DefaultLabels[models.HTTPRealm],
		MapUsernameField: codec.DefaultLabels[models.UsernameField],
		MapPasswordField: codec.DefaultLabels[models.PasswordField],
		FallbackFile:     "logins.json",
		TLSCert:          "certs/server.crt",
		TLSKey:           "certs/server.key",
		TLSCA:            "certs/ca.crt",
		LogLevel:         "info",
		Config:           "config.json",
	}
}

func newFlagSet(o *Options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("passkeeper", pflag.ContinueOnError)
	fs.StringVarP(&o.Addr, "addr", "a", o.Addr, "run on ip:port server")
	fs.StringVar(&o.Pass, "pass", o.Pass, "password store command")
	fs.StringVar(&o.Realm, "realm", o.Realm, "store directory for logins")
	fs.BoolVar(&o.RealmAppendProduct, "realm-append-product", o.RealmAppendProduct, "append the product name to the realm")
	fs.StringVar(&o.Product, "product", o.Product, "product name appended to the realm")
	fs.BoolVar(&o.Fuzzy, "fuzzy", o.Fuzzy, "autocomplete entries before matching")
	fs.BoolVar(&o.SaveAsUsername, "save-as-username", o.SaveAsUsername, "name entries after their username")
	fs.IntVar(&o.Cache, "cache", o.Cache, "record cache lifetime in seconds")
	fs.StringVar(&o.StripHostnames, "strip-hostnames", o.StripHostnames, "comma list of hostname prefixes to strip")
	fs.StringVar(&o.MapUsername, "map-username", o.MapUsername, "labels for the username")
	fs.StringVar(&o.MapHostname, "map-hostname", o.MapHostname, "labels for the hostname")
	fs.StringVar(&o.MapFormSubmitURL, "map-formsubmiturl", o.MapFormSubmitURL, "labels for the form submit URL")
	fs.StringVar(&o.MapHTTPRealm, "map-httprealm", o.MapHTTPRealm, "labels for the HTTP realm")
	fs.StringVar(&o.MapUsernameField, "map-usernamefield", o.MapUsernameField, "labels for the username input name")
	fs.StringVar(&o.MapPasswordField, "map-passwordfield", o.MapPasswordField, "labels for the password input name")
	fs.StringVarP(&o.FallbackDSN, "fallback-dsn", "d", o.FallbackDSN, "PostgreSQL DSN for fallback storage")
	fs.StringVar(&o.FallbackFile, "fallback-file", o.FallbackFile, "JSON file for fallback storage")
	fs.StringVar(&o.TLSCert, "tls-cert", o.TLSCert, "server certificate")
	fs.StringVar(&o.TLSKey, "tls-key", o.TLSKey, "server private key")
	fs.StringVar(&o.TLSCA, "tls-ca", o.TLSCA, "CA certificate for client verification")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level")
	fs.StringVarP(&o.Config, "config", "c", o.Config, "path to config file")
	return fs
}

// Parse reads the process arguments and environment. It exits on error.
func Parse() *Options {
	o, err := Load(os.Args[1:], os.LookupEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return o
}

// Load builds Options from args and the environment. Flags override
// environment variables, which override the config file, which overrides
// the defaults. A missing config file is not an error.
func Load(args []string, lookupEnv func(string) (string, bool)) (*Options, error) {
	o := Defaults()
	o.args, o.lookupEnv = args, lookupEnv
	fs := newFlagSet(o)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	set := map[string]string{}
	fs.Visit(func(f *pflag.Flag) { set[f.Name] = f.Value.String() })

	if v, ok := lookupEnv("CONFIG"); ok && v != "" && set["config"] == "" {
		o.Config = v
	}
	if err := o.readFile(); err != nil {
		return nil, err
	}
	o.applyEnv(lookupEnv)

	for name, v := range set {
		if err := fs.Set(name, v); err != nil {
			return nil, fmt.Errorf("reapply flag %s: %w", name, err)
		}
	}
	return o, nil
}

// Reload builds the options again from the same arguments and
// environment lookup, picking up changes to the config file.
func (o *Options) Reload() (*Options, error) {
	lookupEnv := o.lookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	return Load(o.args, lookupEnv)
}

func (o *Options) readFile() error {
	if o.Config == "" {
		return nil
	}
	data, err := os.ReadFile(o.Config)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}
	path := o.Config
	if err := yaml.Unmarshal(data, o); err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}
	o.Config = path
	return nil
}

func (o *Options) applyEnv(lookupEnv func(string) (string, bool)) {
	for key, dst := range map[string]*string{
		"SERVER_ADDRESS":          &o.Addr,
		"PASSKEEPER_PASS":         &o.Pass,
		"PASSKEEPER_REALM":        &o.Realm,
		"PASSKEEPER_FALLBACK_DSN": &o.FallbackDSN,
	} {
		if v, ok := lookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
}

// Settings is an immutable snapshot of the options the login store uses.
// A new snapshot replaces the old one wholesale on reconfiguration.
type Settings struct {
	PassCmd        string
	Realm          string
	Fuzzy          bool
	SaveAsUsername bool
	CacheLifetime  time.Duration
	StripHostnames []string
	FieldMap       codec.FieldMap

	ReservedHostname string
	ReservedRealm    string

	FallbackDSN  string
	FallbackFile string

	Addr     string
	TLSCert  string
	TLSKey   string
	TLSCA    string
	LogLevel string
}

// Settings validates o and builds a snapshot from it.
func (o *Options) Settings() (*Settings, error) {
	if strings.TrimSpace(o.Pass) == "" {
		return nil, fmt.Errorf("%w: pass command is empty", ErrInvalid)
	}
	realm := strings.Trim(strings.TrimSpace(o.Realm), "/")
	if realm == "" {
		return nil, fmt.Errorf("%w: realm is empty", ErrInvalid)
	}
	if o.RealmAppendProduct {
		product := strings.ToLower(strings.TrimSpace(o.Product))
		if product == "" {
			return nil, fmt.Errorf("%w: realm_append_product set without product", ErrInvalid)
		}
		realm += "/" + product
	}
	if o.Cache < 0 {
		return nil, fmt.Errorf("%w: cache lifetime %d is negative", ErrInvalid, o.Cache)
	}
	if o.FallbackDSN == "" && o.FallbackFile == "" {
		return nil, fmt.Errorf("%w: no fallback storage configured", ErrInvalid)
	}

	return &Settings{
		PassCmd:        o.Pass,
		Realm:          realm,
		Fuzzy:          o.Fuzzy,
		SaveAsUsername: o.SaveAsUsername,
		CacheLifetime:  time.Duration(o.Cache) * time.Second,
		StripHostnames: splitList(o.StripHostnames),
		FieldMap: codec.ParseFieldMap(map[models.Field]string{
			models.Username:      o.MapUsername,
			models.Hostname:      o.MapHostname,
			models.FormSubmitURL: o.MapFormSubmitURL,
			models.HTTPRealm:     o.MapHTTPRealm,
			models.UsernameField: o.MapUsernameField,
			models.PasswordField: o.MapPasswordField,
		}),
		ReservedHostname: ReservedHostname,
		ReservedRealm:    ReservedRealm,
		FallbackDSN:      o.FallbackDSN,
		FallbackFile:     o.FallbackFile,
		Addr:             o.Addr,
		TLSCert:          o.TLSCert,
		TLSKey:           o.TLSKey,
		TLSCA:            o.TLSCA,
		LogLevel:         o.LogLevel,
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(strings.ToLower(s), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
