// Package minimega is a thin client for the orchestrator's control socket.
// Apps use it during post-start to push per-host command files over the
// command-and-control (cc) channel.
package minimega

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"rangekit/pkg/logging"
)

// DialTimeout bounds the initial socket connect.
const DialTimeout = 5 * time.Second

// Commander is the command surface apps depend on. The dry-run
// implementation satisfies it without touching the socket.
type Commander interface {
	// Run sends a raw command and returns the per-host responses.
	Run(cmd string) ([]Response, error)

	// CCFilter restricts subsequent cc commands to matching hosts,
	// e.g. "name=node-1".
	CCFilter(filter string) error

	// CCSend ships a file to the hosts selected by the current filter.
	CCSend(path string) error

	Close() error
}

// Response is one host's answer to a command.
type Response struct {
	Host     string `json:"Host"`
	Response string `json:"Response"`
	Error    string `json:"Error"`
}

// request is the wire format for a single command.
type request struct {
	Original string `json:"Original"`
}

// reply is the wire format for command output. More indicates a streamed
// response with further reply frames pending.
type reply struct {
	Resp []Response `json:"Resp"`
	More bool       `json:"More"`
}

// Client talks to the control socket inside a namespace.
type Client struct {
	namespace string
	conn      net.Conn
	enc       *json.Encoder
	dec       *json.Decoder
}

// Connect dials the control socket and scopes all commands to namespace.
func Connect(socket, namespace string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socket, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socket, err)
	}

	return &Client{
		namespace: namespace,
		conn:      conn,
		enc:       json.NewEncoder(conn),
		dec:       json.NewDecoder(conn),
	}, nil
}

// Run sends a command, draining streamed replies until the final frame.
func (c *Client) Run(cmd string) ([]Response, error) {
	if c.namespace != "" {
		cmd = fmt.Sprintf("namespace %s %s", c.namespace, cmd)
	}

	if err := c.enc.Encode(request{Original: cmd}); err != nil {
		return nil, fmt.Errorf("failed to send command %q: %w", cmd, err)
	}

	var all []Response
	for {
		var r reply
		if err := c.dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("failed to read response for %q: %w", cmd, err)
		}
		all = append(all, r.Resp...)
		if !r.More {
			break
		}
	}

	for _, r := range all {
		if r.Error != "" {
			return all, fmt.Errorf("command %q failed on %s: %s", cmd, r.Host, r.Error)
		}
	}
	return all, nil
}

// CCFilter sets the cc host filter for subsequent cc commands.
func (c *Client) CCFilter(filter string) error {
	_, err := c.Run("cc filter " + filter)
	return err
}

// CCSend ships a file to the currently filtered hosts.
func (c *Client) CCSend(path string) error {
	_, err := c.Run("cc send " + path)
	return err
}

// Close closes the control socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// DryRun logs commands instead of executing them.
type DryRun struct {
	Namespace string
}

// Run logs the command and reports an empty response set.
func (d DryRun) Run(cmd string) ([]Response, error) {
	logging.L().Info("dry run: skipping orchestrator command",
		zap.String("namespace", d.Namespace),
		zap.String("cmd", cmd))
	return nil, nil
}

// CCFilter logs the filter change.
func (d DryRun) CCFilter(filter string) error {
	_, err := d.Run("cc filter " + filter)
	return err
}

// CCSend logs the send.
func (d DryRun) CCSend(path string) error {
	_, err := d.Run("cc send " + path)
	return err
}

// Close is a no-op.
func (d DryRun) Close() error { return nil }
