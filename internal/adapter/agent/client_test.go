package agent

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/vmvault/internal/core/domain"
)

type handlerFunc func(req CommandRequest) CommandResponse

// serve runs a fake agent answering every connection with handle.
func serve(t *testing.T, handle handlerFunc) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "agent")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "agent.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				var req CommandRequest
				if err := json.NewDecoder(conn).Decode(&req); err != nil {
					return
				}
				_ = json.NewEncoder(conn).Encode(handle(req))
			}(conn)
		}
	}()
	return socketPath
}

func data(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func newTestClient(socketPath string) *Client {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewClient(socketPath, time.Second, log)
}

func TestPauseAndResumeSendVMID(t *testing.T) {
	var mu sync.Mutex
	var seen []CommandRequest
	socketPath := serve(t, func(req CommandRequest) CommandResponse {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, req)
		return CommandResponse{Code: 200, Status: "OK"}
	})
	c := newTestClient(socketPath)

	require.NoError(t, c.Pause(context.Background(), "vm-1"))
	require.NoError(t, c.Resume(context.Background(), "vm-1"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, CmdPause, seen[0].Cmd)
	assert.Equal(t, CmdResume, seen[1].Cmd)
	assert.Equal(t, "vm-1", seen[1].Args["vm_id"])
}

func TestSnapshotDecodesCapture(t *testing.T) {
	socketPath := serve(t, func(req CommandRequest) CommandResponse {
		if req.Cmd != CmdSnapshot || req.Args["full"] != true {
			return CommandResponse{Code: 400, Status: "Bad Request"}
		}
		return CommandResponse{Code: 200, Status: "OK", Data: data(t, map[string]interface{}{
			"vm_name": "db",
			"disks": []map[string]interface{}{
				{"disk_id": "d1", "name": "root", "size": 2048, "path": "/staging/d1.qcow2"},
			},
			"resources": []map[string]interface{}{
				{"type": "nic", "name": "eth0", "data": map[string]string{"mac": "fa:16:3e:00:00:01"}},
			},
		})}
	})

	capture, err := newTestClient(socketPath).Snapshot(context.Background(), "vm-1", true)
	require.NoError(t, err)
	assert.Equal(t, "vm-1", capture.VMID)
	assert.Equal(t, "db", capture.VMName)
	require.Len(t, capture.Disks, 1)
	assert.Equal(t, int64(2048), capture.Disks[0].Size)
	require.Len(t, capture.Resources, 1)
	assert.Equal(t, domain.ResourceTypeNIC, capture.Resources[0].Type)
}

func TestIdentityLookups(t *testing.T) {
	socketPath := serve(t, func(req CommandRequest) CommandResponse {
		switch req.Cmd {
		case CmdProjectExists:
			return CommandResponse{Code: 200, Data: data(t, existsResponse{Exists: req.Args["project_id"] == "p1"})}
		case CmdResolveUser:
			return CommandResponse{Code: 200, Data: data(t, existsResponse{Exists: false})}
		}
		return CommandResponse{Code: 400}
	})
	c := newTestClient(socketPath)

	ok, err := c.ProjectExists(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ProjectExists(context.Background(), "p2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.ResolveUser(context.Background(), "u1", "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestErrorCodes(t *testing.T) {
	socketPath := serve(t, func(req CommandRequest) CommandResponse {
		if req.Args["vm_id"] == "missing" {
			return CommandResponse{Code: 404, Status: "Not Found", Message: "no such vm"}
		}
		return CommandResponse{Code: 500, Status: "Internal Server Error", Message: "boom"}
	})
	c := newTestClient(socketPath)

	err := c.Pause(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = c.Pause(context.Background(), "vm-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestUnreachableSocketIsTransportError(t *testing.T) {
	c := newTestClient(filepath.Join(t.TempDir(), "missing.sock"))
	err := c.Pause(context.Background(), "vm-1")
	assert.ErrorIs(t, err, domain.ErrTransport)
}
