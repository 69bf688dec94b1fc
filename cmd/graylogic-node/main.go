// Gray Logic Node - connectivity firmware for Gray Logic field nodes.
//
// The node joins the site's wireless network, holds an MQTT session with
// the site broker, publishes periodic status documents and acts on
// commands sent to it. Any unrecoverable connectivity failure ends in a
// controlled device restart.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-node/internal/escalation"
	"github.com/nerrad567/gray-logic-node/internal/heartbeat"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/link"
	"github.com/nerrad567/gray-logic-node/internal/metrics"
	"github.com/nerrad567/gray-logic-node/internal/node"
	"github.com/nerrad567/gray-logic-node/internal/portal"
	"github.com/nerrad567/gray-logic-node/internal/session"
	"github.com/nerrad567/gray-logic-node/internal/settings"
	"github.com/nerrad567/gray-logic-node/internal/wifi"
	"github.com/nerrad567/gray-logic-node/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/node.yaml"

	linkPollInterval   = time.Second
	hostFactsTimeout   = 2 * time.Second
	bootLogTimeout     = 2 * time.Second
)

// restart is what run hands back to main once a reset has been latched.
// It is carried out after every deferred cleanup in run has finished.
type restart struct {
	restarter escalation.Restarter
	reason    string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	r, err := run(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if r == nil {
		return
	}

	if err := r.restarter.Restart(r.reason); err != nil {
		fmt.Fprintf(os.Stderr, "Error: restart: %v\n", err)
	}
	// A restarter that returns has failed; the service manager restarts us.
	os.Exit(escalation.ExitCodeRestart)
}

// run wires the node and drives it until shutdown or a latched reset.
//
// Returns:
//   - *restart: non-nil when the device must restart
//   - error: startup failure
func run(ctx context.Context) (*restart, error) {
	log := logging.Default()
	log.Info("starting Gray Logic Node",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath)

	restarter, err := escalation.NewRestarter(cfg.Reset, log.Component("restart"))
	if err != nil {
		return nil, fmt.Errorf("configuring reset: %w", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)

	controller := escalation.NewController(cfg.GetResetDisconnectTimeout(), log.Component("escalation"))

	store := settings.NewStore(db, cfg.Device, controller, log.Component("settings"))
	if err := store.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	bootID := uuid.NewString()
	startedAt := time.Now()
	prev, err := store.RecordBoot(ctx, bootID, startedAt)
	if err != nil {
		return nil, fmt.Errorf("recording boot: %w", err)
	}
	logBanner(log, store.Snapshot(), bootID, prev)

	driver := wifi.New(ctx, cfg.Link, log.Component("wifi"))
	defer func() {
		if err := driver.Disassociate(); err != nil {
			log.Warn("error stopping wireless link", "error", err)
		}
	}()

	transport := mqtt.New(cfg.Session, log.Component("mqtt"))

	n := node.New(node.Config{
		Link: link.Config{
			ConnectTimeout:   cfg.Link.GetConnectTimeout(),
			ReconnectTimeout: cfg.Link.GetReconnectTimeout(),
			RetryInterval:    cfg.Link.GetRetryInterval(),
			PollInterval:     linkPollInterval,
		},
		Session: session.Config{
			TopicPrefix:    cfg.Session.TopicPrefix,
			KeepAlive:      cfg.Session.GetKeepAlive(),
			CleanSession:   cfg.Session.CleanSession,
			ConnectTimeout: cfg.Session.GetConnectTimeout(),
			RetryBackoff:   cfg.Session.GetRetryBackoff(),
			RetryCeiling:   cfg.Session.RetryCeiling,
			QoS:            byte(cfg.Session.QoS), //nolint:gosec // validated 0..2
		},
		HeartbeatInterval:  cfg.GetHeartbeatInterval(),
		ResetTimeout:       cfg.GetResetDisconnectTimeout(),
		InboxSize:          cfg.Session.InboxSize,
		MaxMessagesPerTick: cfg.Scheduler.MaxMessagesPerTick,
		Version:            version,
		BootID:             bootID,
		StartedAt:          startedAt,
	}, node.Deps{
		Driver:     driver,
		Transport:  transport,
		Settings:   store,
		System:     heartbeat.NewHostFacts(hostFactsTimeout),
		Logger:     log,
		Escalation: controller,
	})

	m := metrics.New()
	n.Observe(node.MetricsObserver(m))
	n.ObserveTicks(func(d time.Duration) { m.TickSeconds.Observe(d.Seconds()) })

	if influx := connectInfluxDB(cfg.InfluxDB, log); influx != nil {
		defer func() {
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		n.Observe(node.RecorderObserver(influx, store.NodeName))
	}

	if cfg.Portal.Enabled {
		srv, err := portal.New(portal.Deps{
			Config:   cfg.Portal,
			Logger:   log.Component("portal"),
			Node:     n,
			Settings: store,
			Metrics:  m.Handler(),
			Version:  version,
		})
		if err != nil {
			return nil, fmt.Errorf("creating portal: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting portal: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing portal", "error", closeErr)
			}
		}()
		n.Observe(srv.Publish)
	}

	err = n.Run(ctx, cfg.GetTickInterval())
	switch {
	case errors.Is(err, escalation.ErrRestart):
		reason := n.Escalation.Reason()
		recordCtx, cancel := context.WithTimeout(context.Background(), bootLogTimeout)
		defer cancel()
		if recErr := store.RecordResetReason(recordCtx, bootID, reason); recErr != nil {
			log.Warn("could not record reset reason", "error", recErr)
		}
		return &restart{restarter: restarter, reason: reason}, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Info("Gray Logic Node stopped")
		return nil, nil
	default:
		return nil, err
	}
}

// getConfigPath returns GRAYLOGIC_NODE_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_NODE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectInfluxDB returns nil when InfluxDB is disabled or unreachable.
// The node runs without history rather than refusing to boot.
func connectInfluxDB(cfg config.InfluxDBConfig, log *logging.Logger) *influxdb.Client {
	if !cfg.Enabled {
		log.Info("InfluxDB disabled")
		return nil
	}
	client, err := influxdb.Connect(cfg)
	if err != nil {
		log.Warn("InfluxDB unavailable, connectivity history disabled", "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Warn("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return client
}

// logBanner logs the boot identity and why the previous boot ended.
func logBanner(log *logging.Logger, st settings.Settings, bootID string, prev *settings.Boot) {
	args := []any{
		"node", st.NodeName,
		"group", st.GroupName,
		"ssid", st.WiFiSSID,
		"broker", st.BrokerHost,
		"boot_id", bootID,
	}
	if prev != nil {
		reason := prev.ResetReason
		if reason == "" {
			reason = "power loss or crash"
		}
		args = append(args, "previous_boot", prev.ID, "previous_reset", reason)
	}
	log.Info("node identity", args...)
}
