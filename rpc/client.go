package rpc

import (
	"fmt"
	"net/rpc"
	"sync"
)

// Client is a memory pool client speaking net/rpc to a Server.
type Client struct {
	id        int
	client    *rpc.Client
	allocated map[uint64]struct{}
	mu        sync.Mutex
}

// NewClient dials address and returns a Client bound to it.
func NewClient(id int, address string) (*Client, error) {
	client, err := rpc.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %v", err)
	}

	return &Client{
		id:        id,
		client:    client,
		allocated: make(map[uint64]struct{}),
	}, nil
}

// Allocate requests size bytes through the server.
func (c *Client) Allocate(size uint64) (uint64, error) {
	req := &AllocRequest{Size: size}
	resp := &AllocResponse{}

	if err := c.client.Call("Server.Allocate", req, resp); err != nil {
		return 0, fmt.Errorf("RPC call failed: %v", err)
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("server error: %s", resp.Error)
	}

	c.mu.Lock()
	c.allocated[resp.Start] = struct{}{}
	c.mu.Unlock()

	return resp.Start, nil
}

// Free releases start through the server.
func (c *Client) Free(start uint64) error {
	req := &FreeRequest{Start: start}
	resp := &FreeResponse{}

	if err := c.client.Call("Server.Free", req, resp); err != nil {
		return fmt.Errorf("RPC call failed: %v", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("server error: %s", resp.Error)
	}

	c.mu.Lock()
	delete(c.allocated, start)
	c.mu.Unlock()

	return nil
}

// Stats fetches a Space Manager / Slab Index snapshot from the server.
func (c *Client) Stats() (StatsResponse, error) {
	req := &StatsRequest{}
	resp := &StatsResponse{}

	if err := c.client.Call("Server.Stats", req, resp); err != nil {
		return StatsResponse{}, fmt.Errorf("RPC call failed: %v", err)
	}
	return *resp, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}
