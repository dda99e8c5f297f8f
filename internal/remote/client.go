package remote

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"proxywatch/internal/models"
)

// DefaultTimeout is the hard deadline applied to every remote session.
const DefaultTimeout = 10 * time.Second

// dial opens an SSH client connection to the target with a single hard
// deadline covering the TCP connect, the SSH handshake, and everything the
// caller does on the session afterwards. The deadline stays armed on the
// underlying connection so no remote operation can hang past it.
func dial(target models.RemoteTarget, timeout time.Duration) (*ssh.Client, error) {
	addr := target.Addr()
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set deadline on %s: %w", addr, err)
	}

	cfg := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{ssh.Password(target.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}
