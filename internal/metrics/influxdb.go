package metrics

import (
	"fmt"
	"time"

	client "github.com/influxdata/influxdb/client"
)

// InfluxDBReporter periodically ships a Registry's Snapshot to an InfluxDB
// server, the same shape go-ethereum's metrics/influxdb reporter uses
// (client.NewHTTPClient + client.BatchPoints written on a fixed interval).
type InfluxDBReporter struct {
	registry *Registry
	cli      *client.Client
	database string
	tags     map[string]string
	interval time.Duration

	stop chan struct{}
}

// InfluxDBConfig names the target server and database.
type InfluxDBConfig struct {
	Addr     string
	Username string
	Password string
	Database string
	Tags     map[string]string
	Interval time.Duration
}

// NewInfluxDBReporter constructs a reporter that isn't yet running; call
// Start to begin the reporting loop.
func NewInfluxDBReporter(registry *Registry, cfg InfluxDBConfig) (*InfluxDBReporter, error) {
	u, err := client.ParseConnectionString(cfg.Addr, false)
	if err != nil {
		return nil, fmt.Errorf("metrics: parsing influxdb addr: %w", err)
	}
	cli, err := client.NewClient(client.Config{
		URL:      u,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("metrics: building influxdb client: %w", err)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &InfluxDBReporter{
		registry: registry,
		cli:      cli,
		database: cfg.Database,
		tags:     cfg.Tags,
		interval: interval,
		stop:     make(chan struct{}),
	}, nil
}

// Start runs the reporting loop until Stop is called. Intended to be
// invoked via `go reporter.Start()`.
func (r *InfluxDBReporter) Start() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.send(); err != nil {
				// Best-effort: a single failed report shouldn't take down
				// whatever goroutine is driving the loop.
				continue
			}
		case <-r.stop:
			return
		}
	}
}

// Stop ends the reporting loop.
func (r *InfluxDBReporter) Stop() { close(r.stop) }

func (r *InfluxDBReporter) send() error {
	snap := r.registry.Snapshot()
	now := time.Now()

	var points []client.Point
	for name, v := range snap.Counters {
		points = append(points, client.Point{
			Measurement: name,
			Tags:        r.tags,
			Fields:      map[string]interface{}{"count": v},
			Time:        now,
		})
	}
	for name, v := range snap.Gauges {
		points = append(points, client.Point{
			Measurement: name,
			Tags:        r.tags,
			Fields:      map[string]interface{}{"value": v},
			Time:        now,
		})
	}
	for name, v := range snap.Meters {
		points = append(points, client.Point{
			Measurement: name,
			Tags:        r.tags,
			Fields:      map[string]interface{}{"rate1": v},
			Time:        now,
		})
	}
	if len(points) == 0 {
		return nil
	}

	bps := client.BatchPoints{
		Points:   points,
		Database: r.database,
	}
	_, err := r.cli.Write(bps)
	return err
}
