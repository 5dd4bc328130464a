package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cptspacemanspiff/power-sensors/internal/calibration"
	"github.com/cptspacemanspiff/power-sensors/internal/config"
	"github.com/cptspacemanspiff/power-sensors/internal/model"
	"github.com/cptspacemanspiff/power-sensors/internal/sensor"
	"github.com/cptspacemanspiff/power-sensors/internal/storage"
)

func main() {
	configPath := flag.String("config", "/etc/power-monitor/config.toml", "path to the TOML config file")
	degree := flag.Int("degree", 3, "polynomial degree of the fitted curves")
	settle := flag.Duration("settle", 90*time.Second, "wait after each level change before sampling")
	window := flag.Duration("window", 30*time.Second, "sampling window per level")
	poll := flag.Duration("poll", 500*time.Millisecond, "sensor poll interval while sampling")
	historyDays := flag.Int("history-days", 30, "days of stored capacity history to search for a discharge")
	skipBrightness := flag.Bool("skip-brightness", false, "skip the screen power sweep")
	skipLoad := flag.Bool("skip-load", false, "skip the CPU load sweep")
	yes := flag.Bool("yes", false, "do not wait for Enter before starting")
	flag.Parse()

	if os.Geteuid() != 0 && !*skipBrightness {
		log.Fatal("power-calibrate must be run as root for backlight control (or pass -skip-brightness)")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Measured sensors only; nothing here evaluates the model.
	sensors := sensor.NewSet(cfg.Sensors, model.NewHolder(cfg.Storage.ModelPath, logger))
	opts := calibration.SweepOptions{Settle: *settle, Window: *window, Poll: *poll}

	fmt.Println("=== Power Sensor Calibration ===")
	fmt.Println()
	fmt.Println("Before starting, please:")
	fmt.Println("  1. Close ALL unnecessary programs (browser, IDE, etc.)")
	fmt.Println("  2. Unplug all external devices (USB, monitors, etc.)")
	fmt.Println("  3. Ensure the laptop is running on battery (unplug AC adapter)")
	fmt.Println()
	fmt.Println("IMPORTANT: Do not touch the laptop or change anything once calibration starts.")
	fmt.Println()
	if !*yes {
		fmt.Print("Press Enter when ready...")
		bufio.NewReader(os.Stdin).ReadBytes('\n')
		fmt.Println()
	}

	points := make(map[model.Quantity][]calibration.Point)

	fmt.Println("[1/4] Screen power sweep")
	switch {
	case *skipBrightness:
		fmt.Println("       skipped")
	case !sensors.Brightness.Supported() || !sensors.Power.Supported():
		fmt.Println("       skipped: needs a backlight and a direct power reading")
	default:
		opts.Levels = []float64{0, 25, 50, 75, 100}
		pts, err := calibration.BrightnessSweep(ctx, sensors.Brightness, sensors.Power, opts, logger)
		if err != nil {
			log.Fatalf("brightness sweep: %v", err)
		}
		for _, p := range pts {
			fmt.Printf("       brightness %3.0f%%: %.0f mW above the lowest level\n", p.X, p.Y)
		}
		points[model.QuantityScreenPower] = pts
	}

	fmt.Println("[2/4] CPU load sweep")
	switch {
	case *skipLoad:
		fmt.Println("       skipped")
	case !sensors.Load.Supported() || !sensors.Current.Supported():
		fmt.Println("       skipped: needs /proc/stat and a battery current reading")
	default:
		opts.Levels = []float64{0, 25, 50, 75, 100}
		pts, err := calibration.LoadSweep(ctx, sensors.Load, sensors.Current, opts, logger)
		if err != nil {
			log.Fatalf("load sweep: %v", err)
		}
		for _, p := range pts {
			fmt.Printf("       load %5.1f%%: %.0f mA\n", p.X, p.Y)
		}
		points[model.QuantityCurrent] = pts
	}

	fmt.Println("[3/4] Battery life from stored capacity history")
	if pts, err := batteryLifePoints(cfg.Storage.DBPath, *historyDays); err != nil {
		fmt.Printf("       skipped: %v\n", err)
	} else {
		fmt.Printf("       %d points from the last discharge\n", len(pts))
		points[model.QuantityBatteryLife] = pts
	}

	m, err := calibration.Build(points, *degree, time.Now().UTC())
	if err != nil {
		log.Fatalf("build model: %v", err)
	}
	if err := model.Save(cfg.Storage.ModelPath, m); err != nil {
		log.Fatalf("write model: %v", err)
	}

	fmt.Println("[4/4] Calibration complete! Model written to:")
	fmt.Printf("       %s\n", cfg.Storage.ModelPath)
	fmt.Println()
	fmt.Println("Summary:")
	for _, q := range m.Quantities() {
		f, _ := m.Curve(q)
		fmt.Printf("  %-13s degree %d  coefficients %v\n", q, f.Degree(), f.Coefficients())
	}
}

func batteryLifePoints(dbPath string, days int) ([]calibration.Point, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("no database: %w", err)
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	now := time.Now()
	readings, err := store.ReadingsInRange(now.AddDate(0, 0, -days).Unix(), now.Unix(), sensor.KindCapacity)
	if err != nil {
		return nil, err
	}
	pts, err := calibration.BatteryLifePoints(readings)
	if errors.Is(err, calibration.ErrNotEnoughData) {
		return nil, fmt.Errorf("no complete discharge in the last %d days", days)
	}
	return pts, err
}
