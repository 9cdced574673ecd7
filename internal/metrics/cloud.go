package metrics

import (
	"context"
	"time"

	"rmcloud/internal/cloud"
)

type instrumentedCloud struct {
	next    cloud.Client
	metrics *Metrics
}

// InstrumentCloud wraps client so every call is counted and timed. With nil
// metrics the client is returned unchanged.
func InstrumentCloud(client cloud.Client, m *Metrics) cloud.Client {
	if m == nil || client == nil {
		return client
	}
	return &instrumentedCloud{next: client, metrics: m}
}

func (c *instrumentedCloud) Register(ctx context.Context, code string) (string, error) {
	start := time.Now()
	token, err := c.next.Register(ctx, code)
	c.metrics.CloudCall("register", time.Since(start), err)
	return token, err
}

func (c *instrumentedCloud) ListFiles(ctx context.Context) (cloud.Tree, error) {
	start := time.Now()
	tree, err := c.next.ListFiles(ctx)
	c.metrics.CloudCall("list", time.Since(start), err)
	return tree, err
}

func (c *instrumentedCloud) DownloadDocument(ctx context.Context, id string) ([]byte, error) {
	start := time.Now()
	data, err := c.next.DownloadDocument(ctx, id)
	c.metrics.CloudCall("download", time.Since(start), err)
	return data, err
}
