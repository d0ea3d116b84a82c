package analysis

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client 远端分析服务，接口与 MockAnalyzer 相同
type Client struct {
	BaseURL string
	client  *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: baseURL,
		client:  resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
	}
}

func (c *Client) Analyze(ctx context.Context, filename string, video io.Reader, movementType string) (*Response, error) {
	var out Response
	req := c.client.R().
		SetContext(ctx).
		SetFileReader("file", filename, video).
		SetResult(&out)
	if movementType != "" {
		req.SetFormData(map[string]string{"movementType": movementType})
	}
	resp, err := req.Post("/analyze")
	if err != nil {
		return nil, fmt.Errorf("analysis service unreachable: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("analysis service returned %s: %s", resp.Status(), resp.String())
	}
	if out.MovementType == "" {
		out.MovementType = movementType
	}
	return &out, nil
}

func (c *Client) Health(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("analysis service unreachable: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("analysis service unhealthy: %s", resp.Status())
	}
	return nil
}
