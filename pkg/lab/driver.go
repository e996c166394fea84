// Package lab drives the lifecycle of a CML lab for one test session:
// reuse or import the topology, start it, wait until it converges and the
// appliance holds a DHCP lease, and tear it down afterwards.
package lab

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/netlab-ci/cmltest/pkg/cml"
	"github.com/netlab-ci/cmltest/pkg/config"
	"github.com/netlab-ci/cmltest/pkg/topology"
	"github.com/netlab-ci/cmltest/pkg/util"
	"github.com/netlab-ci/cmltest/pkg/virsh"
)

// Lifecycle stages reported in util.LabUnavailableError.
const (
	StageLookup    = "lookup"
	StageImport    = "import"
	StageStart     = "start"
	StageConverge  = "converge"
	StageHostSSH   = "ssh-host"
	StageDomain    = "domain"
	StageLease     = "lease"
	StageDeviceSSH = "device-ssh"
)

// Discovery retry defaults, per attempt count and spacing.
const (
	DefaultDomainAttempts = 10
	DefaultDomainInterval = 5 * time.Second
	DefaultLeaseAttempts  = 30
	DefaultLeaseInterval  = 10 * time.Second
	DefaultLeaseNetwork   = "default"
)

// API is the part of the CML client the driver uses.
type API interface {
	FindLabByTitle(ctx context.Context, title string) (*cml.Lab, error)
	ImportLab(ctx context.Context, title string, topology []byte) (string, error)
	StartLab(ctx context.Context, id string) error
	StopLab(ctx context.Context, id string) error
	WipeLab(ctx context.Context, id string) error
	DeleteLab(ctx context.Context, id string) error
	LabState(ctx context.Context, id string) (string, error)
	Converged(ctx context.Context, id string) (bool, error)
}

// HostInspector queries libvirt on the CML host.
type HostInspector interface {
	ListDomainIDs(ctx context.Context) ([]string, error)
	DumpXML(ctx context.Context, id string) (string, error)
	DHCPLeases(ctx context.Context, network string) ([]virsh.Lease, error)
	Close() error
}

// HostDialer opens a HostInspector on the CML host.
type HostDialer func(ctx context.Context, host string, port int, user, password string) (HostInspector, error)

// DeviceProbe checks that the appliance accepts SSH logins.
type DeviceProbe func(ctx context.Context, host string, port int, user, password string, interval time.Duration) error

// Descriptor is everything needed to bring a lab up.
type Descriptor struct {
	Config    *config.Config
	Topology  *topology.Lab
	Appliance *topology.Node
}

// NewDescriptor loads the topology named by cfg.LabFile. The topology must
// contain an appliance node.
func NewDescriptor(cfg *config.Config) (*Descriptor, error) {
	topo, err := topology.Load(cfg.LabFile)
	if err != nil {
		return nil, err
	}
	appliance, err := topo.Appliance()
	if err != nil {
		return nil, err
	}
	return &Descriptor{Config: cfg, Topology: topo, Appliance: appliance}, nil
}

// Driver owns one lab for the duration of a session. It is not safe for
// concurrent EnsureUp calls; Teardown may be called from any goroutine.
type Driver struct {
	cfg   *config.Config
	api   API
	dial  HostDialer
	probe DeviceProbe

	domainAttempts int
	domainInterval time.Duration
	leaseAttempts  int
	leaseInterval  time.Duration
	leaseNetwork   string
	lookupEnv      func(string) (string, bool)

	mu     sync.Mutex
	labID  string
	reused bool
	torn   bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithAPI replaces the CML client, typically with one pointed at a fake.
func WithAPI(api API) Option {
	return func(d *Driver) { d.api = api }
}

// WithHostDialer replaces the SSH connection to the CML host.
func WithHostDialer(dial HostDialer) Option {
	return func(d *Driver) { d.dial = dial }
}

// WithDeviceProbe replaces the appliance SSH readiness check.
func WithDeviceProbe(probe DeviceProbe) Option {
	return func(d *Driver) { d.probe = probe }
}

// WithDomainRetry sets how often the libvirt domain lookup is attempted.
func WithDomainRetry(attempts int, interval time.Duration) Option {
	return func(d *Driver) {
		d.domainAttempts = attempts
		d.domainInterval = interval
	}
}

// WithLeaseRetry sets how often the DHCP lease lookup is attempted.
func WithLeaseRetry(attempts int, interval time.Duration) Option {
	return func(d *Driver) {
		d.leaseAttempts = attempts
		d.leaseInterval = interval
	}
}

// WithLookupEnv replaces os.LookupEnv for the GitHub Actions bookkeeping.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(d *Driver) { d.lookupEnv = lookup }
}

// NewDriver creates a driver for cfg. Unless WithAPI is given it talks to
// the controller named by cfg.CMLHost.
func NewDriver(cfg *config.Config, opts ...Option) (*Driver, error) {
	d := &Driver{
		cfg:            cfg,
		dial:           dialVirsh,
		probe:          WaitForSSH,
		domainAttempts: DefaultDomainAttempts,
		domainInterval: DefaultDomainInterval,
		leaseAttempts:  DefaultLeaseAttempts,
		leaseInterval:  DefaultLeaseInterval,
		leaseNetwork:   DefaultLeaseNetwork,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.api == nil {
		client, err := cml.NewClient(cfg.CMLHost, cfg.CMLUser, cfg.CMLPassword, cfg.VerifyCert)
		if err != nil {
			return nil, fmt.Errorf("lab: %w", err)
		}
		d.api = client
	}
	return d, nil
}

func dialVirsh(ctx context.Context, host string, port int, user, password string) (HostInspector, error) {
	return virsh.Dial(ctx, host, port, user, password)
}

// LabID returns the id of the lab in use, or "" before EnsureUp.
func (d *Driver) LabID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.labID
}

// Reused reports whether the lab existed before this driver found it.
func (d *Driver) Reused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reused
}

// Adopt points the driver at an existing lab so Teardown can remove it,
// as `cmltest down` does from saved state.
func (d *Driver) Adopt(labID string, reused bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.labID = labID
	d.reused = reused
	d.torn = false
}

// EnsureUp brings the lab described by desc up and returns how to reach
// the appliance. Any failure after the lab is known is returned as a
// *util.LabUnavailableError. A lab this driver imported is removed again
// on failure unless the config asks to keep it.
func (d *Driver) EnsureUp(ctx context.Context, desc *Descriptor) (*Connection, error) {
	start := time.Now()
	title := desc.Topology.Title()
	log := util.WithOperation("ensure-up").WithField("title", title)
	if desc.Appliance != nil {
		log.Debugf("appliance %s (%s), node definitions %v",
			desc.Appliance.Label, desc.Appliance.NodeDefinition, desc.Topology.NodeDefinitions())
	}

	labID, reused, err := d.acquire(ctx, desc)
	if err != nil {
		return nil, err
	}
	log = log.WithField("lab", labID)

	conn, err := d.awaitReady(ctx, labID)
	if err != nil {
		if !reused && !d.cfg.KeepLab {
			log.Warnf("provisioning failed, removing lab: %v", err)
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
			if terr := d.Teardown(cleanupCtx); terr != nil {
				log.Errorf("cleanup after failed provisioning: %v", terr)
			}
			cancel()
		}
		return nil, err
	}

	conn.LabTitle = title
	conn.Reused = reused
	conn.ProvisionTime = time.Since(start)
	log.Infof("elapsed time to provision %s", conn.ProvisionTime.Round(time.Second))
	return conn, nil
}

// acquire finds a lab with the topology's title or imports one, and makes
// sure it is started.
func (d *Driver) acquire(ctx context.Context, desc *Descriptor) (string, bool, error) {
	title := desc.Topology.Title()

	existing, err := d.api.FindLabByTitle(ctx, title)
	switch {
	case err == nil:
		util.WithLab(existing.ID).Infof("using existing lab %q (%s)", title, existing.State)
		d.Adopt(existing.ID, true)
		if existing.State != cml.StateStarted {
			if err := d.api.StartLab(ctx, existing.ID); err != nil {
				return "", true, d.unavailable(existing.ID, StageStart, 0, err)
			}
		}
		return existing.ID, true, nil
	case !errors.Is(err, util.ErrNotFound):
		return "", false, d.unavailable("", StageLookup, 0, err)
	}

	util.Infof("importing lab %q from %s", title, d.cfg.LabFile)
	labID, err := d.api.ImportLab(ctx, title, desc.Topology.Raw())
	if err != nil {
		return "", false, d.unavailable("", StageImport, 0, err)
	}
	d.Adopt(labID, false)
	util.WithLab(labID).Info("lab imported")

	if err := RecordGitHubLab(d.lookupEnv, labID); err != nil {
		util.WithLab(labID).Warnf("recording lab for GitHub Actions cleanup: %v", err)
	}

	if err := d.api.StartLab(ctx, labID); err != nil {
		return labID, false, d.unavailable(labID, StageStart, 0, err)
	}
	util.WithLab(labID).Info("lab started")
	return labID, false, nil
}

// awaitReady waits for convergence, then discovers the appliance address
// through libvirt on the CML host.
func (d *Driver) awaitReady(ctx context.Context, labID string) (*Connection, error) {
	cfg := d.cfg
	log := util.WithLab(labID)

	log.Infof("waiting up to %s for lab to converge", cfg.ReadyTimeout)
	err := wait.PollUntilContextTimeout(ctx, cfg.PollInterval, cfg.ReadyTimeout, true, func(ctx context.Context) (bool, error) {
		converged, err := d.api.Converged(ctx, labID)
		if err != nil {
			return false, err
		}
		log.Debugf("converged: %v", converged)
		return converged, nil
	})
	if err != nil {
		if ctx.Err() == nil && wait.Interrupted(err) {
			return nil, d.unavailable(labID, StageConverge, cfg.ReadyTimeout, errors.New("lab did not converge"))
		}
		return nil, d.unavailable(labID, StageConverge, 0, err)
	}
	log.Info("lab converged")

	host := HostName(cfg.CMLHost)
	inspector, err := d.dial(ctx, host, cfg.SSHPort, cfg.SSHUser, cfg.SSHPassword)
	if err != nil {
		return nil, d.unavailable(labID, StageHostSSH, 0, err)
	}
	defer inspector.Close()

	domain, err := FindLabDomain(ctx, inspector, labID, d.domainAttempts, d.domainInterval)
	if err != nil {
		return nil, d.unavailable(labID, StageDomain, d.domainInterval*time.Duration(d.domainAttempts), err)
	}
	macs := domain.MACs()
	log.Infof("found macs: %s", strings.Join(macs, ", "))

	address, err := LeaseAddress(ctx, inspector, d.leaseNetwork, macs, d.leaseAttempts, d.leaseInterval)
	if err != nil {
		return nil, d.unavailable(labID, StageLease, d.leaseInterval*time.Duration(d.leaseAttempts), err)
	}
	log.Infof("appliance address %s", address)

	conn, err := NewConnection(labID, host, address, cfg)
	if err != nil {
		return nil, d.unavailable(labID, StageLease, 0, err)
	}

	if cfg.ProbeDevice {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.ReadyTimeout)
		defer cancel()
		if err := d.probe(probeCtx, conn.Host, conn.SSHPort, conn.DeviceUser, conn.DevicePassword, cfg.PollInterval); err != nil {
			return nil, d.unavailable(labID, StageDeviceSSH, cfg.ReadyTimeout, err)
		}
		log.Info("appliance accepts SSH")
	}
	return conn, nil
}

func (d *Driver) unavailable(labID, stage string, timeout time.Duration, err error) error {
	return &util.LabUnavailableError{Lab: labID, Stage: stage, Timeout: timeout, Err: err}
}

// Teardown stops, wipes and deletes the lab this driver created. A reused
// lab, or one the config says to keep, is left running. Calling Teardown
// again, before EnsureUp, or after the lab vanished is a no-op.
func (d *Driver) Teardown(ctx context.Context) error {
	d.mu.Lock()
	labID, reused, torn := d.labID, d.reused, d.torn
	d.torn = true
	d.mu.Unlock()

	if torn || labID == "" {
		return nil
	}
	log := util.WithOperation("teardown").WithField("lab", labID)

	if reused {
		log.Infof("please remember to remove lab id '%s'", labID)
		return nil
	}
	if d.cfg.KeepLab {
		log.Infof("keeping lab id '%s' (%s set)", labID, config.EnvKeepLab)
		return nil
	}

	steps := []struct {
		name string
		fn   func(context.Context, string) error
	}{
		{"stop", d.api.StopLab},
		{"wipe", d.api.WipeLab},
		{"delete", d.api.DeleteLab},
	}
	for _, step := range steps {
		if err := step.fn(ctx, labID); err != nil {
			if cml.IsNotFound(err) {
				log.Debugf("lab already gone at %s", step.name)
				return nil
			}
			d.mu.Lock()
			d.torn = false
			d.mu.Unlock()
			return fmt.Errorf("lab: %s %s: %w", step.name, labID, err)
		}
		log.Debugf("%s done", step.name)
	}
	log.Info("lab removed")
	return nil
}

// HostName extracts the host name from a VIRL_HOST value, which may be a
// bare name, host:port or a URL.
func HostName(cmlHost string) string {
	s := strings.TrimSpace(cmlHost)
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return strings.TrimSpace(cmlHost)
	}
	return u.Hostname()
}
