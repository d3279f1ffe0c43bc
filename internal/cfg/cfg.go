package cfg

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/log"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

// EnvPrefix namespaces environment variables: flag "foo-bar" reads BRIDGE_FOO_BAR.
const EnvPrefix = "BRIDGE_"

// DemoSecret is the fallback HMAC key. It is public and only fit for
// local demos.
const DemoSecret = "demo-secret-key"

// legacyEnv maps flags to the unprefixed variables earlier deployments
// used. They apply only when the prefixed variable is unset.
var legacyEnv = map[string]string{
	"staging-dir": "STAGING_DIR",
	"output-dir":  "OUTPUT_DIR",
	"producer-id": "PRODUCER_ID",
}

// sensitive flags never have their values logged.
var sensitive = map[string]bool{
	"secret": true,
}

type Logging struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
}

// Key selects where MAC key material comes from. MACKeyARN wins over
// SecretSSMParam, which wins over Secret.
type Key struct {
	Secret         string
	SecretSSMParam string
	MACKeyARN      string
}

// UsesDemoSecret reports whether the public fallback key would be used.
func (k Key) UsesDemoSecret() bool {
	return k.MACKeyARN == "" && k.SecretSSMParam == "" && k.Secret == DemoSecret
}

// Sources names the optional .env and YAML config files.
type Sources struct {
	ConfigFile string
	EnvFile    string
}

// App is the consumer configuration.
type App struct {
	Logging
	Key
	Sources

	StagingDir      string
	StagingS3Bucket string
	StagingS3Prefix string
	OutputDir       string
	OutputS3Bucket  string
	OutputS3Prefix  string

	Workers       int
	RateLimit     float64
	Watch         bool
	WatchInterval time.Duration
	FailOnError   bool

	AdminPort       int
	EnablePprof     bool
	EnableTracing   bool
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
}

// NeedsAWS reports whether any option requires AWS credentials.
func (c App) NeedsAWS() bool {
	return c.MACKeyARN != "" || c.SecretSSMParam != "" || c.StagingS3Bucket != "" || c.OutputS3Bucket != ""
}

// Producer is the producer configuration.
type Producer struct {
	Logging
	Key
	Sources

	StagingDir  string
	ProducerID  string
	PayloadFile string
}

// NeedsAWS reports whether any option requires AWS credentials.
func (p Producer) NeedsAWS() bool {
	return p.MACKeyARN != "" || p.SecretSSMParam != ""
}

func registerLogging(fs *flag.FlagSet, l *Logging) {
	fs.BoolVar(&l.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&l.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&l.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&l.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&l.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
}

func registerKey(fs *flag.FlagSet, k *Key) {
	fs.StringVar(&k.Secret, "secret", DemoSecret, "HMAC key material (demo default, override in production)")
	fs.StringVar(&k.SecretSSMParam, "secret-ssm-param", "", "SSM SecureString parameter holding the HMAC key")
	fs.StringVar(&k.MACKeyARN, "mac-key-arn", "", "KMS HMAC_256 key ARN; key material never leaves KMS")
}

func registerSources(fs *flag.FlagSet, s *Sources) {
	fs.StringVar(&s.ConfigFile, "config", "", "optional YAML config file (keys are flag names)")
	fs.StringVar(&s.EnvFile, "env-file", ".env", "optional .env file loaded into the environment")
}

// Register binds all consumer config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	registerLogging(fs, &c.Logging)
	registerKey(fs, &c.Key)
	registerSources(fs, &c.Sources)

	fs.StringVar(&c.StagingDir, "staging-dir", "../../staging", "directory to scan for bundle-*.json")
	fs.StringVar(&c.StagingS3Bucket, "staging-s3-bucket", "", "read staged bundles from this S3 bucket instead of staging-dir")
	fs.StringVar(&c.StagingS3Prefix, "staging-s3-prefix", "", "s3 prefix (key) holding staged bundles")
	fs.StringVar(&c.OutputDir, "output-dir", "../../output", "directory for processed-*.json results (created if absent)")
	fs.StringVar(&c.OutputS3Bucket, "output-s3-bucket", "", "write results to this S3 bucket instead of output-dir")
	fs.StringVar(&c.OutputS3Prefix, "output-s3-prefix", "", "s3 prefix (key) for results")

	fs.IntVar(&c.Workers, "workers", 1, "bundles processed concurrently (1 = sequential)")
	fs.Float64Var(&c.RateLimit, "rate-limit", 0, "max bundles started per second (0 = unlimited)")
	fs.BoolVar(&c.Watch, "watch", false, "keep running and reprocess when staging changes")
	fs.DurationVar(&c.WatchInterval, "watch-interval", 30*time.Second, "poll interval in watch mode")
	fs.BoolVar(&c.FailOnError, "fail-on-error", false, "exit non-zero when any bundle failed")

	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (0 disables, 1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", false, "plaintext gRPC to otlp-endpoint (TLS otherwise)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
}

// RegisterProducer binds all producer config fields to the given FlagSet.
func RegisterProducer(fs *flag.FlagSet, p *Producer) {
	registerLogging(fs, &p.Logging)
	registerKey(fs, &p.Key)
	registerSources(fs, &p.Sources)

	fs.StringVar(&p.StagingDir, "staging-dir", "../../staging", "directory to write bundle-*.json into")
	fs.StringVar(&p.ProducerID, "producer-id", "go-producer-001", "producer identity stamped on bundles")
	fs.StringVar(&p.PayloadFile, "payload-file", "", "seal this JSON object instead of the demo payloads")
}

// Load parses args and fills the remaining flags from the environment
// (after loading the .env file) and then the config file.
// Precedence: cli flag > env var (.env included) > config file > default.
func Load(fs *flag.FlagSet, args []string, src *Sources, logf func(string, ...any)) error {
	if err := fs.Parse(args); err != nil {
		return err
	}

	// the env file location may itself come from the environment
	envFile := src.EnvFile
	if !isSet(fs, "env-file") {
		if v, ok := os.LookupEnv(EnvPrefix + "ENV_FILE"); ok {
			envFile = v
		}
	}
	if err := LoadDotEnv(envFile); err != nil {
		return err
	}

	FillFromEnv(fs, EnvPrefix, logf)
	return FillFromFile(fs, src.ConfigFile, logf)
}

func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process
// environment. Variables already set are left alone. A missing file is
// not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func display(name, v string) string {
	if sensitive[name] {
		return "[redacted]"
	}
	return fmt.Sprintf("%q", v)
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR, falling
// back to the flag's legacy unprefixed name when one exists.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			legacy, ok := legacyEnv[f.Name]
			if !ok {
				return
			}
			if envVal, envSet = os.LookupEnv(legacy); !envSet {
				return
			}
			key = legacy
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %s overrides env %s=%s", f.Name, display(f.Name, f.Value.String()), key, display(f.Name, envVal))
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			// numeric flags zero themselves on a parse error; restore through
			// the Value so the flag stays unset and the config file still applies
			_ = f.Value.Set(prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%s: %v", f.Name, key, display(f.Name, envVal), err)
			}
		}
	})
}

// FillFromFile sets flags that are still at their defaults from a YAML
// file of flag-name keys. Call it after FillFromEnv so env values win.
// An empty path is a no-op; unknown keys and bad values are errors.
func FillFromFile(fs *flag.FlagSet, path string, logf func(string, ...any)) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var errs []error
	for name, raw := range values {
		f := fs.Lookup(name)
		if f == nil {
			errs = append(errs, fmt.Errorf("config file %s: unknown option %q", path, name))
			continue
		}
		if set[name] {
			if logf != nil {
				logf("flag -%s: cli/env value overrides config file %s", name, path)
			}
			continue
		}
		switch raw.(type) {
		case map[string]any, []any:
			errs = append(errs, fmt.Errorf("config file %s: option %q must be a scalar", path, name))
			continue
		}
		if err := fs.Set(name, fmt.Sprint(raw)); err != nil {
			errs = append(errs, fmt.Errorf("config file %s: option %q: %w", path, name, err))
		}
	}
	return xerrors.Join(errs...)
}

func validateLogging(l Logging) []error {
	var errs []error
	if _, err := log.ParseLevel(l.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", l.LogLevel, err))
	}
	if l.StacktraceLevel != "" {
		if _, err := log.ParseLevel(l.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", l.StacktraceLevel, err))
		}
	}
	if l.IncludeErrorLinks {
		if l.MaxErrorLinks < 1 || l.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", l.MaxErrorLinks))
		}
	}
	return errs
}

func validateKey(k Key) []error {
	var errs []error
	if k.MACKeyARN != "" && k.SecretSSMParam != "" {
		errs = append(errs, fmt.Errorf("MAC_KEY_ARN and SECRET_SSM_PARAM are mutually exclusive"))
	}
	if k.MACKeyARN == "" && k.SecretSSMParam == "" && k.Secret == "" {
		errs = append(errs, fmt.Errorf("SECRET must not be empty"))
	}
	return errs
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	errs := validateLogging(c.Logging)
	errs = append(errs, validateKey(c.Key)...)

	// Locations
	if c.StagingS3Bucket == "" && c.StagingDir == "" {
		errs = append(errs, fmt.Errorf("STAGING_DIR or STAGING_S3_BUCKET is required"))
	}
	if c.OutputS3Bucket == "" && c.OutputDir == "" {
		errs = append(errs, fmt.Errorf("OUTPUT_DIR or OUTPUT_S3_BUCKET is required"))
	}

	// Pipeline
	if c.Workers < 1 || c.Workers > 1024 {
		errs = append(errs, fmt.Errorf("invalid WORKERS %d (must be 1..1024)", c.Workers))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT %.3f (must be >= 0)", c.RateLimit))
	}
	if c.Watch && c.WatchInterval <= 0 {
		errs = append(errs, fmt.Errorf("WATCH_INTERVAL must be positive (got %s)", c.WatchInterval))
	}

	// Ports
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 0..65535)", c.AdminPort))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	return xerrors.Join(errs...)
}

// ValidateProducer checks producer config the same way.
func ValidateProducer(p Producer) error {
	errs := validateLogging(p.Logging)
	errs = append(errs, validateKey(p.Key)...)
	if p.StagingDir == "" {
		errs = append(errs, fmt.Errorf("STAGING_DIR is required"))
	}
	if p.ProducerID == "" {
		errs = append(errs, fmt.Errorf("PRODUCER_ID is required"))
	}
	return xerrors.Join(errs...)
}
