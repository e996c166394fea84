package lab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/netlab-ci/cmltest/pkg/util"
	"github.com/netlab-ci/cmltest/pkg/virsh"
)

// ErrMultipleAddresses is returned when the appliance holds more than one
// lease and the address to test against is ambiguous.
var ErrMultipleAddresses = errors.New("more than one address leased to the appliance")

// retry calls cond up to attempts times, interval apart, until it reports
// done or fails.
func retry(ctx context.Context, attempts int, interval time.Duration, cond wait.ConditionWithContextFunc) error {
	if attempts < 1 {
		attempts = 1
	}
	backoff := wait.Backoff{Duration: interval, Factor: 1, Steps: attempts}
	return wait.ExponentialBackoffWithContext(ctx, backoff, cond)
}

// FindLabDomain returns the libvirt domain whose definition mentions
// labID. CML tags every node domain with its lab id, and the domain may
// not be defined until a while after the lab reports converged.
func FindLabDomain(ctx context.Context, host HostInspector, labID string, attempts int, interval time.Duration) (*virsh.Domain, error) {
	log := util.WithLab(labID)
	var found *virsh.Domain
	attempt := 0

	err := retry(ctx, attempts, interval, func(ctx context.Context) (bool, error) {
		log.Debugf("domain lookup attempt %d", attempt)
		attempt++
		ids, err := host.ListDomainIDs(ctx)
		if err != nil {
			return false, err
		}
		for _, id := range ids {
			xmlText, err := host.DumpXML(ctx, id)
			if err != nil {
				return false, err
			}
			if !strings.Contains(xmlText, labID) {
				continue
			}
			d, err := virsh.ParseDomain(xmlText)
			if err != nil {
				return false, err
			}
			log.Debugf("lab found in domain %s (%s)", id, d.Name)
			found = d
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		if ctx.Err() == nil && wait.Interrupted(err) {
			return nil, fmt.Errorf("no libvirt domain references lab %s after %d attempts: %w", labID, attempts, util.ErrNotFound)
		}
		return nil, err
	}
	return found, nil
}

// LeaseAddress waits for a DHCP lease on network for any of macs and
// returns the leased address. More than one distinct address is an error.
func LeaseAddress(ctx context.Context, host HostInspector, network string, macs []string, attempts int, interval time.Duration) (string, error) {
	if len(macs) == 0 {
		return "", errors.New("appliance domain has no interfaces with a mac address")
	}
	var addrs []string
	attempt := 0

	err := retry(ctx, attempts, interval, func(ctx context.Context) (bool, error) {
		util.Debugf("lease lookup attempt %d for %s", attempt, strings.Join(macs, ", "))
		attempt++
		leases, err := host.DHCPLeases(ctx, network)
		if err != nil {
			return false, err
		}
		addrs = virsh.AddressesFor(leases, macs)
		return len(addrs) > 0, nil
	})
	if err != nil {
		if ctx.Err() == nil && wait.Interrupted(err) {
			return "", fmt.Errorf("no DHCP lease on %q for %s after %d attempts: %w",
				network, strings.Join(macs, ", "), attempts, util.ErrNotFound)
		}
		return "", err
	}
	if len(addrs) > 1 {
		return "", fmt.Errorf("%w: %s", ErrMultipleAddresses, strings.Join(addrs, ", "))
	}
	return addrs[0], nil
}
