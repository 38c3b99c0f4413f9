package ready

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTP checks readiness by making an HTTP GET request.
// Any response with status < 500 is considered ready.
type HTTP struct {
	Addr string
	Path string // default "/"
}

func (c *HTTP) Check(ctx context.Context) error {
	path := c.Path
	if path == "" {
		path = "/"
	}

	url := fmt.Sprintf("http://%s%s", c.Addr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 200 * time.Millisecond}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}
