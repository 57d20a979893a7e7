// Package influx writes search and verification metrics to InfluxDB and
// reads hash rate history back.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/lifpow/pkg/circuit"
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
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	queryAPI := client.QueryAPI(cfg.Org)

	return &Client{
		client:   client,
		writeAPI: writeAPI,
		queryAPI: queryAPI,
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

// Search metrics

// WriteHashrateMetric writes a hash rate measurement for one worker. Worker
// -1 denotes the whole coordinator.
func (c *Client) WriteHashrateMetric(network string, worker int, hashrate float64) {
	c.writeAPI.WritePoint(HashratePoint(network, worker, hashrate, time.Now()))
}

// HashratePoint builds the point written by WriteHashrateMetric.
func HashratePoint(network string, worker int, hashrate float64, at time.Time) *write.Point {
	tags := map[string]string{
		"network": network,
		"worker":  workerTag(worker),
	}
	fields := map[string]interface{}{
		"hashrate": hashrate,
	}
	return write.NewPoint("hashrate", tags, fields, at)
}

// WriteSearchMetric records the outcome of one job search.
func (c *Client) WriteSearchMetric(network, pipeline, jobID string, hashes uint64, elapsed time.Duration, found, interrupted bool) {
	c.writeAPI.WritePoint(SearchPoint(network, pipeline, jobID, hashes, elapsed, found, interrupted, time.Now()))
}

// SearchPoint builds the point written by WriteSearchMetric.
func SearchPoint(network, pipeline, jobID string, hashes uint64, elapsed time.Duration, found, interrupted bool, at time.Time) *write.Point {
	outcome := "exhausted"
	switch {
	case found:
		outcome = "found"
	case interrupted:
		outcome = "interrupted"
	}

	tags := map[string]string{
		"network":  network,
		"pipeline": pipeline,
		"outcome":  outcome,
	}
	fields := map[string]interface{}{
		"job_id":     jobID,
		"hashes":     int64(hashes),
		"elapsed_ms": elapsed.Milliseconds(),
		"count":      1,
	}
	return write.NewPoint("searches", tags, fields, at)
}

// WriteSolutionMetric writes a solution and the node's verdict on it.
func (c *Client) WriteSolutionMetric(network string, height int64, hash string, difficulty float64, status string) {
	tags := map[string]string{
		"network": network,
		"status":  status,
	}

	fields := map[string]interface{}{
		"height":     height,
		"hash":       hash,
		"difficulty": difficulty,
		"count":      1,
	}

	point := write.NewPoint("solutions", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteVerificationMetric writes the outcome of a genesis verification.
func (c *Client) WriteVerificationMetric(network, pipeline string, failedChecks int) {
	tags := map[string]string{
		"network":  network,
		"pipeline": pipeline,
		"ok":       fmt.Sprintf("%t", failedChecks == 0),
	}

	fields := map[string]interface{}{
		"failed_checks": failedChecks,
		"count":         1,
	}

	point := write.NewPoint("genesis_verifications", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// System metrics

// WriteSystemMetric writes process metrics for a service.
func (c *Client) WriteSystemMetric(service string, memoryUsage float64, goroutines int64) {
	tags := map[string]string{
		"service": service,
	}

	fields := map[string]interface{}{
		"memory_usage": memoryUsage,
		"goroutines":   goroutines,
	}

	point := write.NewPoint("system", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteCircuitMetric records the state of a circuit breaker guarding one of
// a service's dependencies.
func (c *Client) WriteCircuitMetric(service string, stats circuit.Stats) {
	c.writeAPI.WritePoint(CircuitPoint(service, stats, time.Now()))
}

// CircuitPoint builds the point written by WriteCircuitMetric. open is 1
// while the breaker rejects calls.
func CircuitPoint(service string, stats circuit.Stats, at time.Time) *write.Point {
	open := 0
	if stats.State == circuit.StateOpen {
		open = 1
	}

	tags := map[string]string{
		"service": service,
		"circuit": stats.Name,
	}
	fields := map[string]interface{}{
		"state":    stats.State.String(),
		"open":     open,
		"failures": stats.Failures,
		"trips":    int64(stats.Trips),
		"rejected": int64(stats.Rejected),
	}
	return write.NewPoint("circuits", tags, fields, at)
}

func workerTag(worker int) string {
	if worker < 0 {
		return "all"
	}
	return fmt.Sprintf("%d", worker)
}

// Query methods

// GetHashrateHistory retrieves the coordinator hash rate of a network
func (c *Client) GetHashrateHistory(ctx context.Context, network string, duration time.Duration) ([]HashrateSample, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "hashrate")
		|> filter(fn: (r) => r.network == "%s")
		|> filter(fn: (r) => r.worker == "all")
		|> filter(fn: (r) => r._field == "hashrate")
		|> aggregateWindow(every: 1m, fn: mean, createEmpty: false)
	`, c.bucket, duration.String(), network)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query hashrate history: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	var points []HashrateSample
	for result.Next() {
		record := result.Record()
		if value, ok := record.Value().(float64); ok {
			points = append(points, HashrateSample{
				Time:     record.Time(),
				Hashrate: value,
			})
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return points, nil
}

// GetSolutionCounts counts solutions per status for a network
func (c *Client) GetSolutionCounts(ctx context.Context, network string, duration time.Duration) (map[string]int64, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "solutions")
		|> filter(fn: (r) => r.network == "%s")
		|> filter(fn: (r) => r._field == "count")
		|> group(columns: ["status"])
		|> sum()
	`, c.bucket, duration.String(), network)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query solution counts: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	counts := make(map[string]int64)
	for result.Next() {
		record := result.Record()
		status, _ := record.ValueByKey("status").(string)
		if count, ok := record.Value().(int64); ok {
			counts[status] = count
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return counts, nil
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// HashrateSample is a hash rate measurement at a point in time
type HashrateSample struct {
	Time     time.Time `json:"time"`
	Hashrate float64   `json:"hashrate"`
}
