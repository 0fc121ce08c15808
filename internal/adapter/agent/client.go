// Package agent talks to the hypervisor agent over its unix socket. The agent
// pauses, resumes and captures VMs and answers identity lookups for migrate
// imports.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/service"
	"github.com/martijn/vmvault/internal/importchain"
)

const (
	CmdPause         = "pause"
	CmdResume        = "resume"
	CmdSnapshot      = "snapshot"
	CmdProjectExists = "project_exists"
	CmdResolveUser   = "resolve_user"
)

// Client sends one command per connection to the agent socket.
type Client struct {
	socketPath string
	timeout    time.Duration
	log        logrus.FieldLogger
}

var (
	_ service.ComputeDriver        = (*Client)(nil)
	_ importchain.IdentityResolver = (*Client)(nil)
)

func NewClient(socketPath string, timeout time.Duration, log logrus.FieldLogger) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    timeout,
		log:        log,
	}
}

type CommandRequest struct {
	Cmd  string                 `json:"cmd"`
	Args map[string]interface{} `json:"args"`
}

type CommandResponse struct {
	Code    int             `json:"code"`
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

// SendCommand writes the request, half-closes the connection and decodes a
// single response. Non-2xx codes are returned as errors.
func (c *Client) SendCommand(ctx context.Context, cmd string, args map[string]interface{}) (*CommandResponse, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, transportError(cmd, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err))
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, transportError(cmd, fmt.Errorf("failed to set deadline: %w", err))
	}

	if err := json.NewEncoder(conn).Encode(CommandRequest{Cmd: cmd, Args: args}); err != nil {
		return nil, transportError(cmd, fmt.Errorf("failed to send request: %w", err))
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		if err := uc.CloseWrite(); err != nil {
			c.log.WithError(err).Debug("Failed to half-close agent connection")
		}
	}

	var response CommandResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return nil, transportError(cmd, fmt.Errorf("failed to read response: %w", err))
	}

	c.log.WithFields(logrus.Fields{
		"cmd":  cmd,
		"code": response.Code,
	}).Debug("Agent command finished")

	switch {
	case response.Code == 404:
		return &response, &domain.Error{Kind: domain.ErrNotFound, Entity: cmd, Message: response.Message}
	case response.Code < 200 || response.Code >= 300:
		return &response, fmt.Errorf("agent %s failed (%d %s): %s", cmd, response.Code, response.Status, response.Message)
	}
	return &response, nil
}

func transportError(cmd string, err error) error {
	return &domain.Error{Kind: domain.ErrTransport, Entity: "agent", ID: cmd, Err: err}
}

func (c *Client) Pause(ctx context.Context, vmID string) error {
	_, err := c.SendCommand(ctx, CmdPause, map[string]interface{}{"vm_id": vmID})
	return err
}

func (c *Client) Resume(ctx context.Context, vmID string) error {
	_, err := c.SendCommand(ctx, CmdResume, map[string]interface{}{"vm_id": vmID})
	return err
}

// Snapshot asks the agent to stage the VM's disks and returns where they
// were staged.
func (c *Client) Snapshot(ctx context.Context, vmID string, full bool) (*service.VMCapture, error) {
	resp, err := c.SendCommand(ctx, CmdSnapshot, map[string]interface{}{
		"vm_id": vmID,
		"full":  full,
	})
	if err != nil {
		return nil, err
	}
	var capture service.VMCapture
	if err := json.Unmarshal(resp.Data, &capture); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot of vm %s: %w", vmID, err)
	}
	if capture.VMID == "" {
		capture.VMID = vmID
	}
	return &capture, nil
}

func (c *Client) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	return c.exists(ctx, CmdProjectExists, map[string]interface{}{"project_id": projectID})
}

func (c *Client) ResolveUser(ctx context.Context, userID, projectID string) (bool, error) {
	return c.exists(ctx, CmdResolveUser, map[string]interface{}{
		"user_id":    userID,
		"project_id": projectID,
	})
}

func (c *Client) exists(ctx context.Context, cmd string, args map[string]interface{}) (bool, error) {
	resp, err := c.SendCommand(ctx, cmd, args)
	if err != nil {
		return false, err
	}
	var out existsResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return false, fmt.Errorf("failed to parse %s response: %w", cmd, err)
	}
	return out.Exists, nil
}
