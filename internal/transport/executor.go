// Package transport implements the remote-shell executor: a bounded,
// per-call SSH session against a configured node.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	agenterrors "github.com/fleetwatch/gpu-observer/internal/errors"
	"github.com/fleetwatch/gpu-observer/internal/observability"
	"github.com/fleetwatch/gpu-observer/pkg/model"
)

// Result is the outcome of a single remote command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Credentials holds the per-node auth material. Never logged.
type Credentials struct {
	Password       string
	PrivateKeyPEM  []byte
}

// Executor runs commands against configured nodes over SSH. One dialed
// connection is attempted per Execute call; callers retry at the next tick
// rather than have the executor retry internally.
type Executor struct {
	insecureHostKey bool
	credentials     func(node model.NodeDescriptor) Credentials
	metrics         *observability.Metrics
	errorCollector  *agenterrors.ErrorCollector
}

// NewExecutor builds an Executor. credentials resolves a node's auth
// material at call time so secrets never need to be stored on the
// NodeDescriptor itself.
func NewExecutor(insecureHostKey bool, credentials func(model.NodeDescriptor) Credentials, metrics *observability.Metrics, errCollector *agenterrors.ErrorCollector) *Executor {
	return &Executor{
		insecureHostKey: insecureHostKey,
		credentials:     credentials,
		metrics:         metrics,
		errorCollector:  errCollector,
	}
}

// Execute runs command on node with a hard per-call timeout. It dials a
// fresh connection, opens one session, and tears both down before
// returning — there is no connection pooling or internal retry.
func (e *Executor) Execute(ctx context.Context, node model.NodeDescriptor, command string, timeout time.Duration) (Result, error) {
	start := time.Now()
	result, err := e.execute(ctx, node, command, timeout)
	elapsed := time.Since(start)

	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.RemoteCallDuration.WithLabelValues(node.Name, status).Observe(elapsed.Seconds())
		e.metrics.RemoteCallTotal.WithLabelValues(node.Name, status).Inc()
	}

	if err != nil && e.errorCollector != nil {
		e.errorCollector.Report(agenterrors.AgentError{
			Code:      classify(err),
			Message:   fmt.Sprintf("remote command on %s failed: %v", node.Name, err),
			Component: "transport",
			Timestamp: time.Now().UnixMilli(),
			Err:       err,
		})
	}

	return result, err
}

func (e *Executor) execute(ctx context.Context, node model.NodeDescriptor, command string, timeout time.Duration) (Result, error) {
	creds := e.credentials(node)

	authMethods, err := authMethodsFor(creds)
	if err != nil {
		return Result{}, &RemoteError{Kind: KindAuthFailure, Cause: err}
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if !e.insecureHostKey {
		// Production deployments must supply a real known_hosts-backed
		// callback; key distribution is out of scope here, so rejecting
		// every host surfaces the missing wiring loudly instead of
		// silently trusting anything.
		hostKeyCallback = func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			return fmt.Errorf("host key verification not configured for %s", hostname)
		}
	}

	clientCfg := &ssh.ClientConfig{
		User:            node.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", node.Host, node.Port)

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	dialCh := make(chan dialResult, 1)
	go func() {
		c, err := ssh.Dial("tcp", addr, clientCfg)
		dialCh <- dialResult{client: c, err: err}
	}()

	var client *ssh.Client
	select {
	case <-callCtx.Done():
		return Result{}, &RemoteError{Kind: KindTimeout, Cause: callCtx.Err()}
	case dr := <-dialCh:
		if dr.err != nil {
			// x/crypto/ssh reports rejected credentials only through this
			// error text; every other dial error is a connect failure.
			if strings.Contains(dr.err.Error(), "unable to authenticate") {
				return Result{}, &RemoteError{Kind: KindAuthFailure, Cause: dr.err}
			}
			return Result{}, &RemoteError{Kind: KindConnectFailure, Cause: dr.err}
		}
		client = dr.client
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{}, &RemoteError{Kind: KindTransportError, Cause: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runCh := make(chan error, 1)
	go func() { runCh <- session.Run(command) }()

	select {
	case <-callCtx.Done():
		_ = client.Close() // unblocks session.Run by closing the transport
		return Result{}, &RemoteError{Kind: KindTimeout, Cause: callCtx.Err()}
	case runErr := <-runCh:
		exitCode := 0
		if runErr != nil {
			if exitErr, ok := runErr.(*ssh.ExitError); ok {
				exitCode = exitErr.ExitStatus()
			} else {
				return Result{}, &RemoteError{Kind: KindTransportError, Cause: runErr}
			}
		}
		return Result{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
	}
}

func authMethodsFor(creds Credentials) ([]ssh.AuthMethod, error) {
	if len(creds.PrivateKeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(creds.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if creds.Password != "" {
		return []ssh.AuthMethod{ssh.Password(creds.Password)}, nil
	}
	return nil, fmt.Errorf("no credentials configured")
}
