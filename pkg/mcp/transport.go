// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Dialer opens the byte stream a Session runs over. The stream carries
// newline-delimited JSON-RPC messages.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint string) (io.ReadWriteCloser, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, endpoint string) (io.ReadWriteCloser, error) {
	return f(ctx, endpoint)
}

// EndpointDialer resolves endpoints by scheme:
//
//	stdio:<command> [args...]   subprocess speaking on stdin/stdout
//	tcp://host:port             TCP stream
//	unix:///path/to.sock        Unix domain socket
type EndpointDialer struct {
	// Stderr receives subprocess stderr; nil discards it.
	Stderr io.Writer
	// Env is appended to the subprocess environment.
	Env []string
	// KillGrace is how long Close waits for a subprocess to exit after its
	// stdin is closed before killing it.
	KillGrace time.Duration
}

// Dial implements Dialer.
func (d EndpointDialer) Dial(ctx context.Context, endpoint string) (io.ReadWriteCloser, error) {
	switch {
	case strings.HasPrefix(endpoint, "stdio:"):
		args := strings.Fields(strings.TrimPrefix(endpoint, "stdio:"))
		if len(args) == 0 {
			return nil, fmt.Errorf("stdio endpoint %q has no command", endpoint)
		}
		return d.dialProcess(args[0], args[1:])
	case strings.HasPrefix(endpoint, "tcp://"):
		var nd net.Dialer
		return nd.DialContext(ctx, "tcp", strings.TrimPrefix(endpoint, "tcp://"))
	case strings.HasPrefix(endpoint, "unix://"):
		var nd net.Dialer
		return nd.DialContext(ctx, "unix", strings.TrimPrefix(endpoint, "unix://"))
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme in %q", endpoint)
	}
}

func (d EndpointDialer) dialProcess(command string, args []string) (io.ReadWriteCloser, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = append(os.Environ(), d.Env...)
	if d.Stderr != nil {
		cmd.Stderr = d.Stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	grace := d.KillGrace
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &processConn{cmd: cmd, stdin: stdin, stdout: stdout, grace: grace}, nil
}

// processConn joins a subprocess' stdout and stdin into one stream.
type processConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	grace  time.Duration

	once sync.Once
	err  error
}

func (p *processConn) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *processConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *processConn) Close() error {
	p.once.Do(func() {
		_ = p.stdin.Close()
		done := make(chan error, 1)
		go func() { done <- p.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(p.grace):
			_ = p.cmd.Process.Kill()
			<-done
		}
	})
	return p.err
}
