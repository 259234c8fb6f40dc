// Package consul provides service discovery using HashiCorp Consul.
// The session agent uses it to locate the API; the emulator registers itself
// so that path can be exercised locally.
package consul

import (
	consulapi "github.com/hashicorp/consul/api"
)

// Client wraps the Consul API client.
type Client struct {
	api *consulapi.Client
}

// NewClient creates a Consul client. token is the ACL token and may be empty.
func NewClient(addr, token string) (*Client, error) {
	config := consulapi.DefaultConfig()
	config.Address = addr

	if token != "" {
		config.Token = token
	}

	client, err := consulapi.NewClient(config)
	if err != nil {
		return nil, err
	}

	return &Client{api: client}, nil
}

// API returns the underlying Consul API client.
func (c *Client) API() *consulapi.Client {
	return c.api
}
