package httpserver

import (
	"context"
	"net"
	"net/http"

	"github.com/tphakala/pairwatch/internal/httpclient"
)

// Client talks to the status server of a running monitor.
type Client struct {
	http *httpclient.Client
	base string
}

// NewClient returns a client for the server listening on listen. An
// unspecified host such as 0.0.0.0 is reached over loopback.
func NewClient(listen string, hc *httpclient.Client) (*Client, error) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return nil, err
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	if hc == nil {
		hc = httpclient.New(nil)
	}
	return &Client{http: hc, base: "http://" + net.JoinHostPort(host, port)}, nil
}

// Session returns the monitor's session status.
func (c *Client) Session(ctx context.Context) (SessionResponse, error) {
	var resp SessionResponse
	err := c.http.JSON(ctx, http.MethodGet, c.base+"/api/v1/session", nil, &resp)
	return resp, err
}

// Stop stops the monitor's session.
func (c *Client) Stop(ctx context.Context) (SessionResponse, error) {
	var resp SessionResponse
	err := c.http.JSON(ctx, http.MethodPost, c.base+"/api/v1/session/stop", nil, &resp)
	return resp, err
}

// UpdateWatchList replaces the monitor's watch list.
func (c *Client) UpdateWatchList(ctx context.Context, objects []string) (SessionResponse, error) {
	var resp SessionResponse
	err := c.http.JSON(ctx, http.MethodPut, c.base+"/api/v1/session/watch_list", WatchListRequest{Objects: objects}, &resp)
	return resp, err
}
