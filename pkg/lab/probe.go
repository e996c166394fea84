package lab

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/netlab-ci/cmltest/pkg/util"
)

// WaitForSSH polls SSH connectivity to host:port with the given
// credentials until a login succeeds and a session opens, or ctx ends.
// Polls every interval.
func WaitForSSH(ctx context.Context, host string, port int, user, pass string, interval time.Duration) error {
	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(pass),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // lab appliance
		Timeout:         5 * time.Second,
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var lastErr error
	err := wait.PollUntilContextCancel(ctx, interval, true, func(ctx context.Context) (bool, error) {
		client, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			lastErr = err
			util.Debugf("ssh %s: %v", addr, err)
			return false, nil
		}
		defer client.Close()

		// A device still booting may accept the handshake but refuse sessions.
		session, err := client.NewSession()
		if err != nil {
			lastErr = err
			return false, nil
		}
		session.Close()
		return true, nil
	})
	if err != nil {
		if lastErr != nil {
			return fmt.Errorf("lab: ssh to %s not ready: %w", addr, lastErr)
		}
		return fmt.Errorf("lab: ssh to %s not ready: %w", addr, err)
	}
	return nil
}
