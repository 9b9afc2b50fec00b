package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// dialTimeout bounds connecting to a possibly absent daemon.
const dialTimeout = 2 * time.Second

// Send sends one request to the daemon owning the data directory and
// returns its response.
func Send(dataDir string, req Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", SocketPath(dataDir), dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connDeadline))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &resp, nil
}
