// Package harness runs a Go test binary against a CML lab. Main replaces
// a package's TestMain: it resolves the configuration, brings the lab up
// before any test runs, publishes the connection to tests and tears the
// lab down afterwards.
//
//	func TestMain(m *testing.M) { harness.Main(m) }
//
//	func TestRoles(t *testing.T) {
//		harness.ForEachRole(t, func(t *testing.T, role ansible.Role) {
//			harness.RunRole(t, role)
//		})
//	}
package harness

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/netlab-ci/cmltest/pkg/config"
	"github.com/netlab-ci/cmltest/pkg/lab"
	"github.com/netlab-ci/cmltest/pkg/util"
)

// Exit codes returned by Run when no test ran.
const (
	ExitConfiguration = 2
	ExitUnavailable   = 1
)

// TeardownTimeout bounds lab removal after the tests finish.
const TeardownTimeout = 5 * time.Minute

// Session is the read-only context published to tests while the lab is up.
type Session struct {
	ID      string
	Config  *config.Config
	Conn    *lab.Connection
	Started time.Time

	report *Report
}

var (
	flagOptions config.Options
	flagsOnce   sync.Once
	current     atomic.Pointer[Session]
)

// RegisterFlags adds --integration-tests-path, --cml-lab, --cml-config and
// --env-file to fs. Main registers them on flag.CommandLine itself.
func RegisterFlags(fs *flag.FlagSet) {
	config.BindFlags(fs, &flagOptions)
}

// Runner is satisfied by *testing.M.
type Runner interface {
	Run() int
}

type runOptions struct {
	configOptions *config.Options
	driverOptions []lab.Option
	stderr        io.Writer
}

// Option configures Run.
type Option func(*runOptions)

// WithConfigOptions resolves configuration from o instead of the command
// line flags.
func WithConfigOptions(o config.Options) Option {
	return func(r *runOptions) { r.configOptions = &o }
}

// WithDriverOptions passes options through to lab.NewDriver.
func WithDriverOptions(opts ...lab.Option) Option {
	return func(r *runOptions) { r.driverOptions = append(r.driverOptions, opts...) }
}

// WithStderr redirects the session's error reporting and logging.
func WithStderr(w io.Writer) Option {
	return func(r *runOptions) { r.stderr = w }
}

// Main runs the session and exits with its code.
func Main(m *testing.M, opts ...Option) {
	os.Exit(Run(m, opts...))
}

// Run resolves the configuration, brings the lab up, runs m and tears the
// lab down. When configuration is invalid or the lab never becomes
// available, no test runs and a non-zero code is returned.
func Run(m Runner, opts ...Option) int {
	ro := &runOptions{stderr: os.Stderr}
	for _, opt := range opts {
		opt(ro)
	}

	cfgOpts := ro.configOptions
	if cfgOpts == nil {
		flagsOnce.Do(func() { RegisterFlags(flag.CommandLine) })
		if !flag.Parsed() {
			flag.Parse()
		}
		cfgOpts = &flagOptions
	}

	defer util.SetLogOutput(util.SetLogOutput(ro.stderr))

	cfg, err := config.Resolve(*cfgOpts)
	if err != nil {
		fmt.Fprintf(ro.stderr, "cmltest: %v\n", err)
		return ExitConfiguration
	}
	if err := util.SetLogLevel(cfg.LogLevel); err != nil {
		fmt.Fprintf(ro.stderr, "cmltest: %v\n", err)
		return ExitConfiguration
	}

	desc, err := lab.NewDescriptor(cfg)
	if err != nil {
		fmt.Fprintf(ro.stderr, "cmltest: %v\n", err)
		return ExitConfiguration
	}
	driver, err := lab.NewDriver(cfg, ro.driverOptions...)
	if err != nil {
		fmt.Fprintf(ro.stderr, "cmltest: %v\n", err)
		return ExitConfiguration
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := &Session{
		ID:      uuid.NewString(),
		Config:  cfg,
		Started: time.Now(),
		report:  NewReport(),
	}
	log := util.WithField("session", sess.ID)
	log.Info("starting lab provisioning")

	conn, err := driver.EnsureUp(ctx, desc)
	if err != nil {
		fmt.Fprintf(ro.stderr, "cmltest: no tests run: %v\n", err)
		return ExitUnavailable
	}
	sess.Conn = conn

	current.Store(sess)
	code := m.Run()
	current.Store(nil)

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), TeardownTimeout)
	defer cancel()
	if err := driver.Teardown(tctx); err != nil {
		log.Errorf("teardown: %v", err)
		if code == 0 {
			code = ExitUnavailable
		}
	}

	if cfg.ReportFile != "" {
		if err := sess.report.Write(cfg.ReportFile, sess); err != nil {
			log.Warnf("failed to write report: %v", err)
		} else {
			log.Infof("report written to %s", cfg.ReportFile)
		}
	}
	return code
}

// Current returns the running session, or nil outside Main.
func Current() *Session {
	return current.Load()
}

// Require returns the running session and skips t when there is none,
// e.g. when the package is tested without harness.Main.
func Require(t testing.TB) *Session {
	t.Helper()
	s := Current()
	if s == nil {
		t.Skip("no lab session: TestMain must call harness.Main")
	}
	return s
}

// Connection returns the connection parameters of the running session.
func Connection(t testing.TB) *lab.Connection {
	t.Helper()
	return Require(t).Conn
}
