// Package virsh inspects libvirt on a CML host over SSH to discover the
// DHCP address of a lab node.
package virsh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/netlab-ci/cmltest/pkg/util"
)

// Client is an SSH connection to the CML host. Each Exec opens its own
// session on the shared connection.
type Client struct {
	host   string
	client *ssh.Client
}

// Dial connects to host:port with password authentication. Host keys are
// not verified: CML hosts in CI are rebuilt constantly.
func Dial(ctx context.Context, host string, port int, user, password string) (*Client, error) {
	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // lab host
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("virsh: dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("virsh: ssh handshake with %s: %w", addr, err)
	}
	conn.SetDeadline(time.Time{})

	util.WithField("host", addr).Debug("virsh: connected")
	return &Client{host: addr, client: ssh.NewClient(c, chans, reqs)}, nil
}

// Exec runs cmd and returns stdout and stderr. A non-zero exit status is
// returned as an error alongside the captured output.
func (c *Client) Exec(ctx context.Context, cmd string) (string, string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("virsh: open session on %s: %w", c.host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		session.Close()
		return stdout.String(), stderr.String(), ctx.Err()
	case err := <-done:
		util.Debugf("virsh: %q on %s: %d bytes out", cmd, c.host, stdout.Len())
		if err != nil {
			return stdout.String(), stderr.String(), fmt.Errorf("virsh: %q on %s: %w", cmd, c.host, err)
		}
		return stdout.String(), stderr.String(), nil
	}
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// ListDomainIDs returns the ids of running libvirt domains.
func (c *Client) ListDomainIDs(ctx context.Context) ([]string, error) {
	out, _, err := c.Exec(ctx, "sudo virsh list --all")
	if err != nil {
		return nil, err
	}
	return ParseDomainIDs(out), nil
}

// DumpXML returns the raw domain XML for a domain id.
func (c *Client) DumpXML(ctx context.Context, id string) (string, error) {
	out, _, err := c.Exec(ctx, "sudo virsh dumpxml "+id)
	return out, err
}

// DHCPLeases returns the leases handed out on a libvirt network.
func (c *Client) DHCPLeases(ctx context.Context, network string) ([]Lease, error) {
	out, _, err := c.Exec(ctx, "sudo virsh net-dhcp-leases "+network)
	if err != nil {
		return nil, err
	}
	return ParseLeases(out), nil
}
