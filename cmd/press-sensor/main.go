// Command press-sensor counts press strokes from a GPIO switch, tracks
// strokes-per-minute and downtime, and uploads the results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"

	"github.com/sweeney/press-sensor/internal/config"
	"github.com/sweeney/press-sensor/internal/gpio"
	"github.com/sweeney/press-sensor/internal/logic"
	"github.com/sweeney/press-sensor/internal/metrics"
	"github.com/sweeney/press-sensor/internal/mqtt"
	"github.com/sweeney/press-sensor/internal/registry"
	"github.com/sweeney/press-sensor/internal/status"
	"github.com/sweeney/press-sensor/internal/store"
	"github.com/sweeney/press-sensor/internal/upload"
	"github.com/sweeney/press-sensor/internal/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults only if empty)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	debug := flag.Bool("debug", false, "Log at debug level")
	printState := flag.Bool("print-state", false, "Print current switch state and exit")

	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level, _ := cfg.LogLevel()
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})))

	if err := run(cfg, *printState); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, printState bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if printState {
		src, err := gpio.NewRealSource(cfg.GPIO, time.Now)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer src.Close()
		pressed, err := src.Pressed()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		fmt.Printf("Press: %s\n", pressedString(pressed))
		return nil
	}

	device := resolveDevice(ctx, cfg)
	loc := deviceLocation(device, cfg)
	clock := logic.SystemClock{Location: loc}
	startTime := clock.Now()

	pcfg, err := cfg.Processor(loc)
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	proc, err := logic.NewProcessor(pcfg, startTime)
	if err != nil {
		return fmt.Errorf("init processor: %w", err)
	}

	// Initialize MQTT
	mqttCfg := cfg.MQTT.Config
	mqttCfg.ClientID = mqttCfg.ClientID + "-" + device.HardwareID
	publisher := mqtt.NewRealPublisher(mqttCfg)
	defer publisher.Close()

	uploader := upload.New(proc, device, cfg.Upload.Timeout)
	uploader.AddSink("mqtt", mqtt.Sink(publisher))

	var db *store.Store
	if cfg.Postgres.URL != "" {
		db = store.New(cfg.Postgres)
		defer db.Close()
		go func() {
			err := db.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, store.ErrClosed) {
				slog.Error("database connect loop stopped", "error", err)
			}
		}()
		uploader.AddSink("postgres", db)
	}

	recorder := metrics.New()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(startTime, device, status.Config{
		IdleCutoffMs:     cfg.Machine.OffCutoff.Milliseconds(),
		DebounceMs:       cfg.GPIO.Debounce.Milliseconds(),
		UploadIntervalMs: cfg.Upload.Interval.Milliseconds(),
		HeartbeatMs:      cfg.MQTT.Heartbeat.Milliseconds(),
		Retention:        cfg.Engine.Retention.String(),
		ShortRate:        cfg.Engine.ShortRate.String(),
		LongRate:         cfg.Engine.LongRate.String(),
		Transitions:      cfg.Engine.Transitions,
		Broker:           cfg.MQTT.Broker,
		HTTPPort:         cfg.HTTP.Addr,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	hub := web.NewHub()
	go hub.Run(ctx)

	d := newDaemon(proc, publisher, uploader, tracker, recorder, hub, clock.Now, cfg.Machine.OffCutoff)
	d.mqttStatus = publisher
	if db != nil {
		d.storeStatus = db
	}

	// Publish startup event with full status snapshot
	d.publishStatus("STARTUP", "", true)

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		opts := web.Options{History: proc, Metrics: recorder.Handler(), Hub: hub}
		if cfg.HTTP.AccessLog {
			opts.AccessLog = os.Stdout
		}
		srv := web.New(cfg.HTTP.Addr, tracker, opts)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		slog.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	src, err := gpio.NewRealSource(cfg.GPIO, clock.Now)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer src.Close()
	if err := src.Start(d.onHit); err != nil {
		return fmt.Errorf("start gpio: %w", err)
	}

	slog.Info("started",
		"device", device.HardwareID,
		"location", device.Location,
		"equipment", device.Equipment,
		"timezone", loc.String(),
		"pin", cfg.GPIO.Pin,
		"off_cutoff", cfg.Machine.OffCutoff,
		"upload_interval", cfg.Upload.Interval,
		"broker", cfg.MQTT.Broker,
	)

	idle := time.NewTicker(cfg.Machine.IdleTick)
	defer idle.Stop()
	uploads := time.NewTicker(cfg.Upload.Interval)
	defer uploads.Stop()
	var heartbeat <-chan time.Time
	if cfg.MQTT.Heartbeat > 0 {
		hb := time.NewTicker(cfg.MQTT.Heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.runLoop(ctx, idle.C, uploads.C, heartbeat, sigCh)
}

// connStatus reports whether a sink currently has a connection.
type connStatus interface {
	Connected() bool
}

// daemon ties the processor to its inputs and outputs. onHit runs on the GPIO
// goroutine while runLoop drives everything else.
type daemon struct {
	proc        *logic.Processor
	publisher   mqtt.Publisher
	mqttStatus  mqtt.ConnectionStatus
	storeStatus connStatus
	uploader    *upload.Uploader
	tracker     *status.Tracker
	metrics     *metrics.Recorder
	hub         *web.Hub
	now         func() time.Time
	offCutoff   time.Duration

	refreshMu sync.Mutex
	rejectLog rate.Sometimes
}

func newDaemon(proc *logic.Processor, publisher mqtt.Publisher, uploader *upload.Uploader, tracker *status.Tracker, recorder *metrics.Recorder, hub *web.Hub, now func() time.Time, offCutoff time.Duration) *daemon {
	uploader.OnAttempt(func(accepted, _ int) { recorder.ObserveUpload(accepted) })
	return &daemon{
		proc:      proc,
		publisher: publisher,
		uploader:  uploader,
		tracker:   tracker,
		metrics:   recorder,
		hub:       hub,
		now:       now,
		offCutoff: offCutoff,
		rejectLog: rate.Sometimes{First: 3, Interval: time.Minute},
	}
}

func (d *daemon) runLoop(ctx context.Context, idleTick, uploadTick, heartbeatTick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			slog.Info("shutting down", "signal", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			d.publishStatus("SHUTDOWN", signalName, true)
			return nil

		case <-idleTick:
			d.checkIdle()

		case <-uploadTick:
			d.uploader.Upload(ctx)
			d.refreshConnections()

		case <-heartbeatTick:
			// Refresh network info for heartbeat
			if net := readNetworkInfo(); net != nil {
				d.tracker.SetNetwork(net)
			}
			counts := d.proc.Counts()
			slog.Info("heartbeat", "state", d.proc.State(), "hits", counts.Hits, "downs", counts.Downs, "rejected", counts.Rejected)
			d.publishStatus("HEARTBEAT", "", false)
		}
	}
}

// onHit processes one debounced press edge.
func (d *daemon) onHit(e gpio.Edge) {
	rec, err := d.proc.OnHit(e.Time)
	if err != nil {
		d.rejected(logic.KindHit, err)
		return
	}
	slog.Debug("hit", "seq", e.Seq, "short_spm", rec.ShortRate, "long_spm", rec.LongRate)
	d.observe(rec)
}

// checkIdle records a down when the press has gone quiet, and applies
// retention either way.
func (d *daemon) checkIdle() {
	t := d.now()
	rec, due, err := d.proc.CheckIdle(t, d.offCutoff)
	switch {
	case err != nil:
		d.rejected(logic.KindDown, err)
	case due:
		slog.Debug("down", "current_downtime", rec.CurrentDowntime, "long_downtime", rec.CumulativeDowntime)
		d.observe(rec)
	default:
		if n := d.proc.Evict(t); n > 0 {
			slog.Debug("evicted", "records", n)
			d.refresh()
		}
	}
}

func (d *daemon) observe(rec logic.Record) {
	d.metrics.ObserveEvent(rec.Kind)
	d.refresh()
	d.hub.Broadcast(web.RecordMessage(rec))
}

// refresh copies the processor's newest state into the tracker and gauges.
// onHit and runLoop both get here; the lock makes the last writer also the
// one that read the newest record.
func (d *daemon) refresh() {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()
	latest, ok := d.proc.Latest()
	d.tracker.Update(latest, ok, d.proc.Counts())
	d.metrics.SetLatest(latest, d.proc.HistoryLen(), d.proc.CumulativeDowntime())
}

func (d *daemon) rejected(kind logic.Kind, err error) {
	if !errors.Is(err, logic.ErrOutOfOrder) {
		slog.Error("event failed", "kind", kind, "error", err)
		return
	}
	d.metrics.ObserveRejected()
	d.rejectLog.Do(func() {
		slog.Warn("event rejected", "kind", kind, "error", err)
	})
}

func (d *daemon) refreshConnections() {
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	if d.storeStatus != nil {
		d.tracker.SetStoreConnected(d.storeStatus.Connected())
	}
}

func (d *daemon) publishStatus(event, reason string, retained bool) {
	d.refreshConnections()
	latest, ok := d.proc.Latest()
	d.tracker.Update(latest, ok, d.proc.Counts())
	snap := d.tracker.Snapshot()

	sys := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := d.publisher.PublishSystem(sys); err != nil {
		slog.Warn("failed to publish system event", "event", event, "error", err)
		return
	}
	slog.Debug("published system event", "event", event)
}

// resolveDevice looks the sensor up in the registry. Every failure falls
// back to the configured registration so the press is still monitored.
func resolveDevice(ctx context.Context, cfg config.Config) registry.Device {
	defaults := cfg.DeviceDefaults()

	hwID, err := registry.HardwareID()
	if err != nil {
		slog.Warn("no hardware id, using placeholder", "error", err)
		hwID = "unknown"
	}

	var resolver registry.Resolver = registry.Static{Device: defaults}
	if cfg.Redis.URL != "" {
		rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		r, err := registry.NewRedis(rctx, cfg.Redis, defaults)
		cancel()
		if err != nil {
			slog.Warn("device registry unavailable, using config", "error", err)
		} else {
			defer r.Close()
			resolver = r
		}
	}

	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	device, err := resolver.Resolve(rctx, hwID)
	if err != nil {
		slog.Warn("device lookup failed, using config", "hardware_id", hwID, "error", err)
		device, _ = registry.Static{Device: defaults}.Resolve(ctx, hwID)
	}
	return device
}

// deviceLocation loads the device timezone, falling back to the configured
// one and then UTC.
func deviceLocation(device registry.Device, cfg config.Config) *time.Location {
	loc, err := device.TimeLocation()
	if err == nil {
		return loc
	}
	slog.Warn("bad device timezone", "timezone", device.Timezone, "error", err)
	loc, err = cfg.DeviceDefaults().TimeLocation()
	if err == nil {
		return loc
	}
	slog.Warn("bad configured timezone, using UTC", "timezone", cfg.Device.Timezone, "error", err)
	return time.UTC
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

func pressedString(pressed bool) string {
	if pressed {
		return "PRESSED"
	}
	return "RELEASED"
}
