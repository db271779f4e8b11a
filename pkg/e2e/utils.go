package e2e

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/timeplus-io/tp-watchdog/pkg/api"
	"github.com/timeplus-io/tp-watchdog/pkg/models"
)

// RecordingNotifier keeps every message it is asked to send
type RecordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

// Send records text
func (n *RecordingNotifier) Send(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	logrus.Debugf("Recorded notification: %s", text)
	return nil
}

// Drain returns the recorded messages and forgets them
func (n *RecordingNotifier) Drain() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.messages
	n.messages = nil
	return out
}

// Client talks to a running watchdog over HTTP
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the watchdog at baseURL
func NewClient(baseURL, apiKey string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second)
	if apiKey != "" {
		c.SetHeader(api.APIKeyHeader, apiKey)
	}
	return &Client{http: c}
}

// Heartbeat posts one heartbeat for parent/child
func (c *Client) Heartbeat(ctx context.Context, parent, child string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(models.HeartbeatRequest{ObjectName: parent, SubObjectName: child}).
		Post("/api/heartbeat")
	return check(resp, err)
}

// StatusTree fetches the whole status tree
func (c *Client) StatusTree(ctx context.Context) ([]models.EntityView, error) {
	var tree []models.EntityView
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&tree).
		Get("/api/status")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return tree, nil
}

// Control issues pause, resume, delete or toggle_notification for parent,
// or for parent/child when child is set
func (c *Client) Control(ctx context.Context, command, parent, child string) error {
	params := map[string]string{"object_name": parent}
	if child != "" {
		params["sub_object_name"] = child
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Post("/api/" + command)
	return check(resp, err)
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s %s: %s: %s", resp.Request.Method, resp.Request.URL, resp.Status(), resp.String())
	}
	return nil
}
