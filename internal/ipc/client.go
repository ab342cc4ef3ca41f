package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call(serviceName+".Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Scan runs a library scan. Library id 0 sweeps every library.
func (c *Client) Scan(libraryID int64) (*ScanResponse, error) {
	var resp ScanResponse
	if err := c.client.Call(serviceName+".Scan", ScanRequest{LibraryID: libraryID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckMissing runs an immediate missing-volume pass.
func (c *Client) CheckMissing() (*CheckResponse, error) {
	var resp CheckResponse
	if err := c.client.Call(serviceName+".CheckMissing", CheckRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckNewVolumes runs an immediate new-volume pass.
func (c *Client) CheckNewVolumes() (*CheckResponse, error) {
	var resp CheckResponse
	if err := c.client.Call(serviceName+".CheckNewVolumes", CheckRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReloadSchedule re-applies the schedule configuration.
func (c *Client) ReloadSchedule() (*ReloadScheduleResponse, error) {
	var resp ReloadScheduleResponse
	if err := c.client.Call(serviceName+".ReloadSchedule", ReloadScheduleRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop asks the daemon to shut its services down.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call(serviceName+".Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
