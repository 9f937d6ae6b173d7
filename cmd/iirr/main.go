// Command iirr drives the irrigation pump from soil moisture readings and
// archives its logs to the cloud.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/srmq/IIRR/internal/clock"
	"github.com/srmq/IIRR/internal/cloud"
	"github.com/srmq/IIRR/internal/config"
	"github.com/srmq/IIRR/internal/controller"
	"github.com/srmq/IIRR/internal/datalog"
	"github.com/srmq/IIRR/internal/gpio"
	"github.com/srmq/IIRR/internal/history"
	"github.com/srmq/IIRR/internal/irrigation"
	"github.com/srmq/IIRR/internal/logging"
	"github.com/srmq/IIRR/internal/metrics"
	"github.com/srmq/IIRR/internal/mqtt"
	"github.com/srmq/IIRR/internal/params"
	"github.com/srmq/IIRR/internal/sensor"
	"github.com/srmq/IIRR/internal/status"
	"github.com/srmq/IIRR/internal/water"
	"github.com/srmq/IIRR/internal/web"
)

func main() {
	cfgPath := flag.String("config", config.DefaultPath, "Settings file")
	httpAddr := flag.String("http", "", "HTTP listen address (overrides settings, \"off\" disables)")
	broker := flag.String("broker", "", "MQTT broker address (overrides settings)")
	debug := flag.Bool("debug", false, "Debug logging to the console")
	printState := flag.Bool("print-state", false, "Print one moisture reading and exit")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg, *httpAddr, *broker, *debug)

	logger := logging.New(logging.Options{
		Debug:      cfg.Debug,
		File:       cfg.LogFile.Path,
		MaxSizeMB:  cfg.LogFile.MaxSizeMB,
		MaxBackups: cfg.LogFile.MaxBackups,
		MaxAgeDays: cfg.LogFile.MaxAgeDays,
	})
	log := logger.Sugar()

	if *printState {
		err = printReading(cfg)
	} else {
		err = run(cfg, logger)
	}
	if err != nil {
		log.Errorw("fatal", "error", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

// applyFlags lets command-line flags override the settings file.
func applyFlags(cfg *config.Config, httpAddr, broker string, debug bool) {
	switch httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = httpAddr
	}
	if broker != "" {
		cfg.MQTT.Broker = broker
	}
	if debug {
		cfg.Debug = true
	}
}

func newProbes(cfg config.Config) *sensor.DividerReader {
	p := cfg.Probes
	cal := sensor.DefaultCalibration
	cal.ReferenceOhms = p.ReferenceOhms
	cal.Samples = p.Samples
	cal.SettleDelay = p.SettleDelay
	return sensor.NewDividerReader([3]sensor.Probe{
		sensor.IIOProbe(p.IIODevice, p.Surface.Reference, p.Surface.After),
		sensor.IIOProbe(p.IIODevice, p.Middle.Reference, p.Middle.After),
		sensor.IIOProbe(p.IIODevice, p.Deep.Reference, p.Deep.After),
	}, cal, time.Sleep)
}

func printReading(cfg config.Config) error {
	r := sensor.Sample(newProbes(cfg), time.Now())
	fmt.Printf("surface: %s, middle: %s, deep: %s\n",
		moistureString(r.Surface), moistureString(r.Middle), moistureString(r.Deep))
	return nil
}

func moistureString(v float64) string {
	switch v {
	case sensor.OpenCircuit:
		return "OPEN"
	case sensor.ShortCircuit:
		return "SHORT"
	case sensor.ReadError:
		return "ERROR"
	}
	return fmt.Sprintf("%.2f%%", v)
}

func run(cfg config.Config, logger *logging.Logger) error {
	log := logger.Sugar()
	loc := cfg.Location()

	holder := params.NewHolder(params.NewStore(filepath.Join(cfg.DataDir, "conf")))
	if err := holder.Load(); err != nil {
		// The engine refuses to start until the boundary API supplies a
		// valid configuration.
		log.Warnw("params: unable to load runtime configuration", "error", err)
	}

	pump, err := gpio.NewRealPump(cfg.GPIO.Chip, cfg.GPIO.PumpPin, cfg.GPIO.PumpActiveLo)
	if err != nil {
		return fmt.Errorf("init pump: %w", err)
	}
	flow, err := gpio.NewRealPulseCounter(cfg.GPIO.Chip, cfg.GPIO.FlowPin, cfg.GPIO.FlowPowerPin)
	if err != nil {
		pump.Close()
		return fmt.Errorf("init flow sensor: %w", err)
	}
	wp, err := water.NewWellPump(pump, flow, holder, log.Named("water"))
	if err != nil {
		pump.Close()
		flow.Close()
		return fmt.Errorf("init water controller: %w", err)
	}
	defer func() {
		if err := wp.Close(); err != nil {
			log.Warnw("water: close failed", "error", err)
		}
	}()

	engine := irrigation.NewEngine(wp, holder,
		irrigation.NewFileStore(filepath.Join(cfg.DataDir, "var", "irrig.json")),
		irrigation.Options{
			DeepRiseFraction:  cfg.Engine.DeepRiseFraction,
			MinBudgetFraction: cfg.Engine.MinBudgetFraction,
			Location:          loc,
			Monotonic:         time.Now,
		}, log.Named("irrigation"))

	clk := clock.NewOffset(cfg.SetClock, log.Named("clock"))

	logs := datalog.NewStore(filepath.Join(cfg.DataDir, "logs"), loc, cfg.Loop.KeepDays, log.Named("datalog"))
	if err := logs.Maintain(clk.Now()); err != nil {
		log.Warnw("datalog: maintenance failed", "error", err)
	}

	var (
		recorder controller.Recorder
		reader   web.HistoryReader
	)
	hist, err := history.Open(cfg.HistoryPath())
	if err != nil {
		log.Warnw("history: unavailable", "path", cfg.HistoryPath(), "error", err)
	} else {
		defer hist.Close()
		recorder, reader = hist, hist
	}

	m := metrics.New()

	tracker := status.NewTracker(clk.Now(), status.Config{
		TickMs:        cfg.Loop.Tick.Milliseconds(),
		LogIntervalMs: cfg.Loop.LogInterval.Milliseconds(),
		HeartbeatMs:   cfg.Loop.Heartbeat.Milliseconds(),
		Broker:        cfg.MQTT.Broker,
		HTTPAddr:      cfg.HTTP.Addr,
		DataDir:       cfg.DataDir,
		Timezone:      cfg.Timezone,
	}, clk.Now)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	var (
		publisher  mqtt.Publisher
		mqttStatus mqtt.ConnectionStatus
	)
	if cfg.MQTT.Broker != "" {
		rp := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             cfg.MQTT.Broker,
			ClientID:           cfg.MQTT.ClientID,
			Topics:             mqtt.NewTopics(cfg.MQTT.TopicPrefix),
			BufferSize:         cfg.MQTT.BufferSize,
			OnConnectionChange: tracker.SetMQTTConnected,
		}, log.Named("mqtt"))
		defer rp.Close()
		publisher, mqttStatus = rp, rp
	}

	syncer := cloud.NewSyncer(holder, logs, clk, cloud.Options{
		SteadyInterval: cfg.Cloud.Steady,
		RetryInterval:  cfg.Cloud.Retry,
		Jitter:         cfg.Cloud.Jitter,
		RequestTimeout: cfg.Cloud.RequestTimeout,
		ClockTolerance: cfg.Cloud.ClockTolerance,
	}, log.Named("cloud"), cloud.WithResultHook(func(r cloud.Result) {
		m.ObserveSync(r)
		if publisher != nil {
			if err := publisher.Publish(syncEvent(clk.Now(), r)); err != nil {
				log.Warnw("mqtt: sync event not published", "error", err)
			}
		}
	}))

	learn := &water.LearnJob{}
	ctrl := controller.New(controller.Deps{
		Water:     wp,
		Learn:     learn,
		Probes:    newProbes(cfg),
		Engine:    engine,
		Conf:      holder,
		Calib:     holder,
		Logs:      logs,
		Recorder:  recorder,
		Publisher: publisher,
		Tracker:   tracker,
		Metrics:   m,
	}, cfg.Loop.LogInterval, log.Named("controller"))

	publishSystem(publisher, tracker, mqttStatus, clk.Now(), "STARTUP", "", log)

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, web.Deps{
			Tracker:   tracker,
			Params:    holder,
			Learn:     learn,
			Water:     wp,
			Clock:     clk,
			Logs:      logs,
			History:   reader,
			Metrics:   m.Handler(),
			AccessLog: logger.AccessLog(),
			Log:       log.Named("web"),
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("web: server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		log.Infow("web: listening", "addr", cfg.HTTP.Addr)
	}

	log.Infow("started",
		"tick", cfg.Loop.Tick, "log_interval", cfg.Loop.LogInterval,
		"heartbeat", cfg.Loop.Heartbeat, "broker", cfg.MQTT.Broker, "data_dir", cfg.DataDir)

	sensorTicker := time.NewTicker(cfg.Loop.Tick)
	defer sensorTicker.Stop()

	cloudTimer := time.NewTimer(0)
	defer cloudTimer.Stop()

	var hbTick <-chan time.Time
	if cfg.Loop.Heartbeat > 0 {
		hb := time.NewTicker(cfg.Loop.Heartbeat)
		defer hb.Stop()
		hbTick = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(context.Background(), loopDeps{
		Sensor:     ctrl,
		Cloud:      syncer,
		CloudState: syncer,
		Water:      wp,
		Publisher:  publisher,
		MQTTStatus: mqttStatus,
		Tracker:    tracker,
		Now:        clk.Now,
		Log:        log,
	}, loopChans{
		Sensor:     sensorTicker.C,
		Cloud:      cloudTimer.C,
		ResetCloud: func(d time.Duration) { cloudTimer.Reset(d) },
		Heartbeat:  hbTick,
		Signals:    sigCh,
	})
}

func syncEvent(now time.Time, r cloud.Result) mqtt.Event {
	sum := &mqtt.SyncSummary{ID: r.ID, CaughtUp: r.CaughtUp()}
	for _, s := range r.Streams {
		sum.Lines += s.Sent
	}
	if r.Err != nil {
		sum.Error = r.Err.Error()
	}
	return mqtt.Event{Timestamp: now, Type: mqtt.EventSync, Sync: sum}
}

// sensorTask is one iteration of the sensor task.
type sensorTask interface {
	Tick(now time.Time)
}

// syncTask runs one cloud cycle and returns the delay to the next.
type syncTask interface {
	Tick(ctx context.Context) time.Duration
}

type syncStatus interface {
	Status() cloud.Status
}

// pumpStopper is stopped on shutdown before anything is published.
type pumpStopper interface {
	StopWater()
}

type loopDeps struct {
	Sensor     sensorTask
	Cloud      syncTask
	CloudState syncStatus
	Water      pumpStopper
	Publisher  mqtt.Publisher
	MQTTStatus mqtt.ConnectionStatus
	Tracker    *status.Tracker
	Now        func() time.Time
	Log        *zap.SugaredLogger
}

type loopChans struct {
	Sensor     <-chan time.Time
	Cloud      <-chan time.Time
	ResetCloud func(time.Duration)
	Heartbeat  <-chan time.Time
	Signals    <-chan os.Signal
}

// runLoop is the cooperative scheduler. The sensor task and the cloud
// task never run concurrently.
func runLoop(ctx context.Context, d loopDeps, ch loopChans) error {
	log := d.Log
	for {
		select {
		case s := <-ch.Signals:
			log.Infow("shutting down", "signal", s)
			if d.Water != nil {
				d.Water.StopWater()
			}
			publishSystem(d.Publisher, d.Tracker, d.MQTTStatus, d.Now(), "SHUTDOWN", signalName(s), log)
			return nil

		case <-ch.Sensor:
			d.Sensor.Tick(d.Now())
			if d.Tracker != nil && d.MQTTStatus != nil {
				d.Tracker.SetMQTTConnected(d.MQTTStatus.IsConnected())
			}

		case <-ch.Cloud:
			next := d.Cloud.Tick(ctx)
			if d.Tracker != nil && d.CloudState != nil {
				d.Tracker.UpdateCloud(d.CloudState.Status())
			}
			ch.ResetCloud(next)

		case <-ch.Heartbeat:
			if d.Tracker != nil {
				if net := readNetworkInfo(); net != nil {
					d.Tracker.SetNetwork(net)
				}
			}
			publishSystem(d.Publisher, d.Tracker, d.MQTTStatus, d.Now(), "HEARTBEAT", "", log)
		}
	}
}

// publishSystem sends a retained system event carrying the status snapshot.
func publishSystem(pub mqtt.Publisher, tracker *status.Tracker, conn mqtt.ConnectionStatus, now time.Time, event, reason string, log *zap.SugaredLogger) {
	if pub == nil {
		return
	}
	ev := mqtt.SystemEvent{
		Timestamp: now,
		Event:     event,
		Reason:    reason,
		Retained:  true,
	}
	if tracker != nil {
		if conn != nil {
			tracker.SetMQTTConnected(conn.IsConnected())
		}
		ev.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), event, reason)
	}
	if err := pub.PublishSystem(ev); err != nil {
		log.Warnw("mqtt: system event not published", "event", event, "error", err)
		return
	}
	log.Debugw("mqtt: system event published", "event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
