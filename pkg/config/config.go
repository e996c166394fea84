// Package config resolves the lab descriptor for a test session from the
// process environment, an optional .env file, an optional YAML config file
// and the harness flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/netlab-ci/cmltest/pkg/util"
)

// Environment variable names.
const (
	EnvCMLHost      = "VIRL_HOST"
	EnvCMLUser      = "VIRL_USERNAME"
	EnvCMLPassword  = "VIRL_PASSWORD"
	EnvSSHUser      = "CML_SSH_USER"
	EnvSSHPassword  = "CML_SSH_PASSWORD"
	EnvSSHPort      = "CML_SSH_PORT"
	EnvVerifyCert   = "CML_VERIFY_CERT"
	EnvNetworkOS    = "ANSIBLE_NETWORK_OS"
	EnvKeepLab      = "CMLTEST_KEEP_LAB"
	EnvReadyTimeout = "CMLTEST_READY_TIMEOUT"
	EnvPollInterval = "CMLTEST_POLL_INTERVAL"
	EnvDeviceUser   = "CMLTEST_DEVICE_USER"
	EnvDevicePass   = "CMLTEST_DEVICE_PASSWORD"
	EnvProbeDevice  = "CMLTEST_PROBE_DEVICE"
	EnvLogLevel     = "CMLTEST_LOG_LEVEL"
	EnvReport       = "CMLTEST_REPORT"
	EnvConfigFile   = "CMLTEST_CONFIG"
	EnvEnvFile      = "CMLTEST_ENV_FILE"
)

// Defaults for the optional tunables.
const (
	DefaultReadyTimeout   = 10 * time.Minute
	DefaultPollInterval   = 5 * time.Second
	DefaultDeviceUser     = "ansible"
	DefaultDevicePassword = "ansible"
	DefaultLogLevel       = "info"
)

// RequiredVariables lists the environment variables a session cannot start
// without, in the order problems are reported.
var RequiredVariables = []string{
	EnvCMLHost, EnvCMLUser, EnvCMLPassword,
	EnvSSHUser, EnvSSHPassword, EnvSSHPort,
	EnvNetworkOS,
}

// Config is the validated lab descriptor plus session tunables.
type Config struct {
	CMLHost     string
	CMLUser     string
	CMLPassword string
	SSHUser     string
	SSHPassword string
	SSHPort     int
	VerifyCert  bool
	NetworkOS   string

	// LabFile is the CML topology file (--cml-lab).
	LabFile string
	// TestsPath is the integration test directory (--integration-tests-path).
	TestsPath string

	KeepLab        bool
	ReadyTimeout   time.Duration
	PollInterval   time.Duration
	DeviceUser     string
	DevicePassword string
	ProbeDevice    bool
	LogLevel       string
	// ReportFile, when set, receives a markdown summary of the run.
	ReportFile string
}

// Options are the inputs to Resolve.
type Options struct {
	TestsPath  string
	LabFile    string
	ConfigFile string
	EnvFile    string

	// CredentialsOnly skips the lab file and tests path checks, for
	// commands that only talk to an existing lab.
	CredentialsOnly bool

	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// rawVariables carries the string values before parsing. The env tag names
// the variable and is what validation errors report.
type rawVariables struct {
	CMLHost     string `env:"VIRL_HOST" validate:"required"`
	CMLUser     string `env:"VIRL_USERNAME" validate:"required"`
	CMLPassword string `env:"VIRL_PASSWORD" validate:"required"`
	SSHUser     string `env:"CML_SSH_USER" validate:"required"`
	SSHPassword string `env:"CML_SSH_PASSWORD" validate:"required"`
	SSHPort     string `env:"CML_SSH_PORT" validate:"required,number"`
	VerifyCert  string `env:"CML_VERIFY_CERT" validate:"omitempty,boolean"`
	NetworkOS   string `env:"ANSIBLE_NETWORK_OS" validate:"required"`

	KeepLab      string `env:"CMLTEST_KEEP_LAB" validate:"omitempty,boolean"`
	ReadyTimeout string `env:"CMLTEST_READY_TIMEOUT"`
	PollInterval string `env:"CMLTEST_POLL_INTERVAL"`
	DeviceUser   string `env:"CMLTEST_DEVICE_USER"`
	DevicePass   string `env:"CMLTEST_DEVICE_PASSWORD"`
	ProbeDevice  string `env:"CMLTEST_PROBE_DEVICE" validate:"omitempty,boolean"`
	LogLevel     string `env:"CMLTEST_LOG_LEVEL" validate:"omitempty,oneof=trace debug info warn warning error"`
	Report       string `env:"CMLTEST_REPORT"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("env")
	})
}

// Resolve builds a validated Config. Values come from, highest precedence
// first: the process environment, the .env file, the YAML config file.
// Every problem found is reported in a single *util.ConfigurationError.
// Resolve never touches the network.
func Resolve(opts Options) (*Config, error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile, _ = lookup(EnvEnvFile)
	}
	configFile := opts.ConfigFile
	if configFile == "" {
		configFile, _ = lookup(EnvConfigFile)
	}

	chain := []func(string) (string, bool){nonEmpty(lookup)}

	if envFile != "" {
		values, err := godotenv.Read(envFile)
		if err != nil {
			return nil, util.NewConfigurationError(fmt.Sprintf("read env file %s: %v", envFile, err))
		}
		chain = append(chain, mapLookup(values))
	}

	if configFile != "" {
		v := viper.New()
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, util.NewConfigurationError(fmt.Sprintf("read config file %s: %v", configFile, err))
		}
		chain = append(chain, viperLookup(v))
	}

	get := func(name string) string {
		for _, src := range chain {
			if val, ok := src(name); ok {
				return strings.TrimSpace(val)
			}
		}
		return ""
	}

	raw := collect(get)

	var problems []string
	if err := validate.Struct(raw); err != nil {
		problems = append(problems, describe(err)...)
	}

	cfg := &Config{
		CMLHost:        raw.CMLHost,
		CMLUser:        raw.CMLUser,
		CMLPassword:    raw.CMLPassword,
		SSHUser:        raw.SSHUser,
		SSHPassword:    raw.SSHPassword,
		NetworkOS:      raw.NetworkOS,
		ReadyTimeout:   DefaultReadyTimeout,
		PollInterval:   DefaultPollInterval,
		DeviceUser:     orDefault(raw.DeviceUser, DefaultDeviceUser),
		DevicePassword: orDefault(raw.DevicePass, DefaultDevicePassword),
		LogLevel:       orDefault(raw.LogLevel, DefaultLogLevel),
		ReportFile:     raw.Report,
	}

	if raw.SSHPort != "" {
		port, err := strconv.Atoi(raw.SSHPort)
		switch {
		case err != nil:
			// digits that overflow int; non-digits are reported by validation
			if !hasProblem(problems, EnvSSHPort) {
				problems = append(problems, fmt.Sprintf("%s must be an integer, got %q", EnvSSHPort, raw.SSHPort))
			}
		case port < 1 || port > 65535:
			problems = append(problems, fmt.Sprintf("%s must be between 1 and 65535, got %d", EnvSSHPort, port))
		default:
			cfg.SSHPort = port
		}
	}
	cfg.VerifyCert, _ = strconv.ParseBool(orDefault(raw.VerifyCert, "false"))
	cfg.KeepLab, _ = strconv.ParseBool(orDefault(raw.KeepLab, "false"))
	cfg.ProbeDevice, _ = strconv.ParseBool(orDefault(raw.ProbeDevice, "false"))

	problems = append(problems, parseDuration(EnvReadyTimeout, raw.ReadyTimeout, &cfg.ReadyTimeout)...)
	problems = append(problems, parseDuration(EnvPollInterval, raw.PollInterval, &cfg.PollInterval)...)

	if opts.CredentialsOnly {
		cfg.LabFile, cfg.TestsPath = opts.LabFile, opts.TestsPath
	} else {
		lab, labProblems := requireFile("--cml-lab", opts.LabFile, false)
		cfg.LabFile = lab
		problems = append(problems, labProblems...)

		tests, testProblems := requireFile("--integration-tests-path", opts.TestsPath, true)
		cfg.TestsPath = tests
		problems = append(problems, testProblems...)
	}

	if len(problems) > 0 {
		return nil, util.NewConfigurationError(problems...)
	}
	return cfg, nil
}

// collect reads every tagged field of rawVariables through get.
func collect(get func(string) string) *rawVariables {
	raw := &rawVariables{}
	rv := reflect.ValueOf(raw).Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		name := rt.Field(i).Tag.Get("env")
		rv.Field(i).SetString(get(name))
	}
	return raw
}

// describe turns validator errors into operator-facing messages.
func describe(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("environment variable %s is not set", fe.Field()))
		case "number", "numeric":
			msgs = append(msgs, fmt.Sprintf("%s must be an integer, got %q", fe.Field(), fe.Value()))
		case "boolean":
			msgs = append(msgs, fmt.Sprintf("%s must be true or false, got %q", fe.Field(), fe.Value()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s check", fe.Field(), fe.Tag()))
		}
	}
	return msgs
}

func hasProblem(problems []string, name string) bool {
	for _, p := range problems {
		if strings.HasPrefix(p, name+" ") {
			return true
		}
	}
	return false
}

func requireFile(flagName, path string, wantDir bool) (string, []string) {
	if path == "" {
		return "", []string{fmt.Sprintf("%s is required", flagName)}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", []string{fmt.Sprintf("%s: %v", flagName, err)}
	}
	info, err := os.Stat(abs)
	switch {
	case err != nil:
		return abs, []string{fmt.Sprintf("%s: %s does not exist", flagName, path)}
	case wantDir && !info.IsDir():
		return abs, []string{fmt.Sprintf("%s: %s is not a directory", flagName, path)}
	case !wantDir && info.IsDir():
		return abs, []string{fmt.Sprintf("%s: %s is a directory", flagName, path)}
	}
	return abs, nil
}

func parseDuration(name, value string, dst *time.Duration) []string {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return []string{fmt.Sprintf("%s must be a positive duration such as 90s or 10m, got %q", name, value)}
	}
	*dst = d
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// nonEmpty treats a variable set to "" as unset.
func nonEmpty(lookup func(string) (string, bool)) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return v, true
	}
}

func mapLookup(values map[string]string) func(string) (string, bool) {
	return nonEmpty(func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	})
}

// viperLookup reads keys from the config file by their lower-cased name,
// e.g. virl_host for VIRL_HOST.
func viperLookup(v *viper.Viper) func(string) (string, bool) {
	return nonEmpty(func(name string) (string, bool) {
		key := strings.ToLower(name)
		if !v.IsSet(key) {
			return "", false
		}
		return v.GetString(key), true
	})
}
