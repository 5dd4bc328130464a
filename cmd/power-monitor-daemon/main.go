package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cptspacemanspiff/power-sensors/internal/collector"
	"github.com/cptspacemanspiff/power-sensors/internal/config"
	dbussvc "github.com/cptspacemanspiff/power-sensors/internal/dbus"
	"github.com/cptspacemanspiff/power-sensors/internal/model"
	"github.com/cptspacemanspiff/power-sensors/internal/mqtt"
	"github.com/cptspacemanspiff/power-sensors/internal/sensor"
	"github.com/cptspacemanspiff/power-sensors/internal/storage"
)

const defaultConfigPath = "/etc/power-monitor/config.toml"

// topicHandler wraps an slog.Handler and filters records by a "topic" attribute.
// Records without a topic attribute always pass through (startup messages, errors).
// Records with a topic only pass if that topic is enabled.
type topicHandler struct {
	inner  slog.Handler
	topics map[string]bool
	topic  string // set when WithAttrs includes a "topic" key
}

func (h *topicHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.inner.Enabled(context.Background(), level)
}

func (h *topicHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.topics["all"] {
		return h.inner.Handle(ctx, r)
	}
	topic := h.topic
	if topic == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "topic" {
				topic = a.Value.String()
				return false
			}
			return true
		})
	}
	// Warnings and errors are never filtered.
	if topic != "" && !h.topics[topic] && r.Level < slog.LevelWarn {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *topicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	topic := h.topic
	for _, a := range attrs {
		if a.Key == "topic" {
			topic = a.Value.String()
		}
	}
	return &topicHandler{inner: h.inner.WithAttrs(attrs), topics: h.topics, topic: topic}
}

func (h *topicHandler) WithGroup(name string) slog.Handler {
	return &topicHandler{inner: h.inner.WithGroup(name), topics: h.topics, topic: h.topic}
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the TOML config file")
	verbose := flag.Bool("verbose", false, "enable all verbose logging (equivalent to -log=all)")
	logFlag := flag.String("log", "", "comma-separated log topics: sensor,task,process,storage,model,mqtt,sleep (or 'all')")
	resetDB := flag.Bool("reset-db", false, "delete the database and start fresh")
	flag.Parse()

	topics := make(map[string]bool)
	if *verbose {
		topics["all"] = true
	}
	if *logFlag != "" {
		for _, t := range strings.Split(*logFlag, ",") {
			topics[strings.TrimSpace(t)] = true
		}
	}

	handler := &topicHandler{
		inner:  slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		topics: topics,
	}
	logger := slog.New(handler)

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.Error("load config", "path", *configPath, "err", err)
		os.Exit(1)
	}

	dbPath := cfg.Storage.DBPath
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		logger.Error("create data dir", "err", err)
		os.Exit(1)
	}

	if *resetDB {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
				logger.Error("delete database", "err", err)
				os.Exit(1)
			}
		}
		logger.Info("database deleted", "path", dbPath)
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("power-monitor-daemon failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	sensorLog := logger.With("topic", "sensor")
	taskLog := logger.With("topic", "task")
	processLog := logger.With("topic", "process")
	storageLog := logger.With("topic", "storage")
	modelLog := logger.With("topic", "model")
	mqttLog := logger.With("topic", "mqtt")
	sleepLog := logger.With("topic", "sleep")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	models := model.NewHolder(cfg.Storage.ModelPath, modelLog)
	if err := models.Watch(ctx); err != nil {
		logger.Warn("model file watch unavailable, model loads only at startup", "err", err)
	}
	defer models.Close()

	sensors := sensor.NewSet(cfg.Sensors, models)
	for kind, ok := range sensors.Support() {
		sensorLog.Info("sensor", "kind", kind, "supported", ok)
	}

	interval := time.Duration(cfg.Collection.IntervalSeconds) * time.Second
	batteryInterval := time.Duration(cfg.Collection.BatteryIntervalSeconds) * time.Second
	powerTask := collector.NewTask("power", interval, sensors.PowerSensors(), taskLog)
	batteryTask := collector.NewTask("battery", batteryInterval, sensors.BatterySensors(), taskLog)

	recorder := storage.NewRecorder(store, cfg.Collection.BatchSize,
		time.Duration(cfg.Collection.FlushIntervalSeconds)*time.Second, storageLog)
	defer recorder.Close()

	procs := collector.NewProcessCollector(cfg.Sensors.ProcRoot, cfg.Collection.TopProcesses)
	shares := collector.NewShareTracker(powerTask, procs, recorder.ShareSink(), processLog)
	defer shares.Close()

	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		publisher, err = mqtt.Connect(cfg.MQTT, mqttLog)
		if err != nil {
			logger.Warn("mqtt publishing disabled", "broker", cfg.MQTT.Broker, "err", err)
		} else {
			defer publisher.Close()
		}
	}

	registry := collector.NewRegistry(taskLog)
	// Tasks must stop before the listeners behind them close.
	defer registry.StopAll()

	for _, t := range []*collector.Task{powerTask, batteryTask} {
		t.RegisterListener(recorder)
		if publisher != nil {
			t.RegisterListener(publisher)
		}
		registry.Add(t)
	}
	powerTask.RegisterListener(shares)

	for _, t := range registry.Tasks() {
		if err := t.Start(ctx); err != nil {
			return fmt.Errorf("start task %s: %w", t.Name(), err)
		}
	}

	svc := dbussvc.NewService(registry, store, models, sensors, shares)
	conn, err := svc.Export(cfg.DBus.Bus)
	if err != nil {
		return fmt.Errorf("export dbus service: %w", err)
	}
	defer conn.Close()
	logger.Info("D-Bus service registered", "bus", cfg.DBus.Bus)

	// The sleep monitor catches short suspends that the wall-clock check misses.
	var wakeCh <-chan struct{}
	if sleepMon, err := dbussvc.NewSleepMonitor(sleepLog); err != nil {
		logger.Warn("sleep monitor unavailable", "err", err)
	} else {
		wakeCh = sleepMon.Wake()
		go sleepMon.Run(ctx)
	}

	retention := time.Duration(cfg.Cleanup.RetentionDays) * 24 * time.Hour
	cleanup(store, retention, storageLog)
	cleanupTicker := time.NewTicker(time.Duration(cfg.Cleanup.IntervalHours) * time.Hour)
	defer cleanupTicker.Stop()

	jumpThreshold := time.Duration(cfg.Collection.WallClockJumpThresholdSeconds) * time.Second
	clockTicker := time.NewTicker(powerTask.Interval())
	defer clockTicker.Stop()

	logger.Info("power-monitor-daemon started", "interval", interval, "battery_interval", batteryInterval)
	lastTick := time.Now().Round(0) // Strip monotonic so Sub uses wall clock across suspend
	for {
		select {
		case <-clockTicker.C:
			now := time.Now().Round(0)
			if gap := now.Sub(lastTick); gap > powerTask.Interval()+jumpThreshold {
				logger.Info("wall-clock jump detected, re-resolving sensors", "gap_secs", int(gap.Seconds()))
				registry.Resolve()
			}
			lastTick = now
		case <-wakeCh:
			logger.Info("wake signal received, re-resolving sensors")
			registry.Resolve()
			lastTick = time.Now().Round(0)
		case <-cleanupTicker.C:
			cleanup(store, retention, storageLog)
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		}
	}
}

func cleanup(store *storage.DB, retention time.Duration, logger *slog.Logger) {
	before := time.Now().Add(-retention).Unix()
	deleted, err := store.DeleteOlderThan(before)
	if err != nil {
		logger.Error("delete old rows", "err", err)
		return
	}
	logger.Debug("old rows deleted", "rows", deleted, "before", before)
}
