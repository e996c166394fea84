package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// ExecResult is the canned reply to one exec request.
type ExecResult struct {
	Stdout string
	Stderr string
	Status int
}

// FakeSSH is an SSH server on 127.0.0.1 that answers exec requests from a
// table of canned results. Unknown commands exit 127.
type FakeSSH struct {
	User     string
	Password string

	listener net.Listener
	config   *ssh.ServerConfig

	mu       sync.Mutex
	outputs  map[string]ExecResult
	handlers map[string]func() ExecResult
	commands []string
	wg       sync.WaitGroup
}

// NewFakeSSH starts a server accepting user/password. It is closed by
// t.Cleanup.
func NewFakeSSH(t *testing.T, user, password string) *FakeSSH {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}

	f := &FakeSSH{
		User:     user,
		Password: password,
		outputs:  make(map[string]ExecResult),
		handlers: make(map[string]func() ExecResult),
	}
	f.config = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == f.User && string(pass) == f.Password {
				return nil, nil
			}
			return nil, errAuth
		},
	}
	f.config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f.listener = ln

	f.wg.Add(1)
	go f.serve()
	t.Cleanup(f.Close)
	return f
}

var errAuth = errors.New("permission denied")

// Host returns the listen address host.
func (f *FakeSSH) Host() string {
	host, _, _ := net.SplitHostPort(f.listener.Addr().String())
	return host
}

// Port returns the listen port.
func (f *FakeSSH) Port() int {
	_, port, _ := net.SplitHostPort(f.listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// SetOutput answers cmd with stdout and exit status 0.
func (f *FakeSSH) SetOutput(cmd, stdout string) {
	f.SetResult(cmd, ExecResult{Stdout: stdout})
}

// SetResult answers cmd with r.
func (f *FakeSSH) SetResult(cmd string, r ExecResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[cmd] = r
}

// Handle answers cmd with whatever fn returns at the time of the request.
// Handlers take precedence over SetOutput.
func (f *FakeSSH) Handle(cmd string, fn func() ExecResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[cmd] = fn
}

// Commands returns every command executed, in order.
func (f *FakeSSH) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// CommandCount counts executions of cmd.
func (f *FakeSSH) CommandCount(cmd string) int {
	n := 0
	for _, c := range f.Commands() {
		if c == cmd {
			n++
		}
	}
	return n
}

// Close stops accepting connections.
func (f *FakeSSH) Close() {
	f.listener.Close()
	f.wg.Wait()
}

func (f *FakeSSH) serve() {
	defer f.wg.Done()
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		go f.handleConn(conn)
	}
}

func (f *FakeSSH) handleConn(conn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, f.config)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			continue
		}
		go f.handleSession(ch, requests)
	}
}

func (f *FakeSSH) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			continue
		}
		req.Reply(true, nil)

		res := f.result(payload.Command)
		ch.Write([]byte(res.Stdout))
		ch.Stderr().Write([]byte(res.Stderr))

		status := make([]byte, 4)
		binary.BigEndian.PutUint32(status, uint32(res.Status))
		ch.SendRequest("exit-status", false, status)
		return
	}
}

func (f *FakeSSH) result(cmd string) ExecResult {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	fn, hasHandler := f.handlers[cmd]
	res, hasOutput := f.outputs[cmd]
	f.mu.Unlock()

	switch {
	case hasHandler:
		return fn()
	case hasOutput:
		return res
	default:
		return ExecResult{Stderr: "command not found: " + cmd, Status: 127}
	}
}
