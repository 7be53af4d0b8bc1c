// Package influx provides the InfluxDB client for verification time series
// and the size of the pending set.
package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names
const (
	MeasurementVerifications = "verifications"
	MeasurementPending       = "pending_requests"
	MeasurementSystem        = "system"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close closes the InfluxDB connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// Verification metrics

// WriteVerificationMetric records one terminal verification outcome
func (c *Client) WriteVerificationMetric(status, errorType string, required, confirmations int, duration time.Duration) {
	c.writeAPI.WritePoint(verificationPoint(status, errorType, required, confirmations, duration, time.Now()))
}

// WritePendingMetric records the size of the pending set
func (c *Client) WritePendingMetric(pending int, expired int64) {
	fields := map[string]interface{}{
		"pending": pending,
		"expired": expired,
	}

	point := write.NewPoint(MeasurementPending, map[string]string{}, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteSystemMetric writes system performance metrics
func (c *Client) WriteSystemMetric(service string, memoryUsage float64, goroutines int64) {
	tags := map[string]string{
		"service": service,
	}

	fields := map[string]interface{}{
		"memory_usage": memoryUsage,
		"goroutines":   goroutines,
	}

	point := write.NewPoint(MeasurementSystem, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

func verificationPoint(status, errorType string, required, confirmations int, duration time.Duration, at time.Time) *write.Point {
	tags := map[string]string{
		"status":   status,
		"required": strconv.Itoa(required),
	}
	if errorType != "" {
		tags["error_type"] = errorType
	}

	fields := map[string]interface{}{
		"count":         1,
		"confirmations": confirmations,
		"duration_ms":   float64(duration.Microseconds()) / 1000,
	}

	return write.NewPoint(MeasurementVerifications, tags, fields, at)
}

// Query methods

// GetVerificationStats retrieves outcome counts for a time period
func (c *Client) GetVerificationStats(ctx context.Context, duration time.Duration) (*VerificationStats, error) {
	result, err := c.queryAPI.Query(ctx, verificationStatsQuery(c.bucket, duration))
	if err != nil {
		return nil, fmt.Errorf("failed to query verification stats: %w", err)
	}
	defer func() { _ = result.Close() }()

	stats := &VerificationStats{ByStatus: make(map[string]int64)}
	for result.Next() {
		record := result.Record()
		count, ok := record.Value().(int64)
		if !ok {
			continue
		}
		status, _ := record.ValueByKey("status").(string)
		stats.add(status, count)
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return stats, nil
}

func verificationStatsQuery(bucket string, duration time.Duration) string {
	return fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "%s")
		|> filter(fn: (r) => r._field == "count")
		|> group(columns: ["status"])
		|> sum()
	`, bucket, duration.String(), MeasurementVerifications)
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Data structures

// VerificationStats represents aggregated verification outcomes
type VerificationStats struct {
	Total           int64            `json:"total"`
	ByStatus        map[string]int64 `json:"by_status"`
	VerifiedPercent float64          `json:"verified_percent"`
}

func (s *VerificationStats) add(status string, count int64) {
	s.ByStatus[status] += count
	s.Total += count
	if s.Total > 0 {
		s.VerifiedPercent = float64(s.ByStatus["verified"]) / float64(s.Total) * 100
	}
}
