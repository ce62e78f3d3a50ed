package control

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to a running daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the control socket. It fails fast when no daemon is
// listening so CLI commands can report that instead of hanging.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:   conn,
		client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn)),
	}, nil
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

// Status retrieves daemon identity and component readiness.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Docket.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats retrieves the daemon's live subsystem counters.
func (c *Client) Stats() (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.client.Call("Docket.Stats", StatsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
