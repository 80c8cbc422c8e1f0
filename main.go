package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/hwt905-edge/internal/config"
	"github.com/banshee-data/hwt905-edge/internal/ingest"
	"github.com/banshee-data/hwt905-edge/internal/monitoring"
	"github.com/banshee-data/hwt905-edge/internal/motion"
	"github.com/banshee-data/hwt905-edge/internal/sensorconfig"
	"github.com/banshee-data/hwt905-edge/internal/storage"
	"github.com/banshee-data/hwt905-edge/internal/storage/fileindex"
	"github.com/banshee-data/hwt905-edge/internal/transport"
)

var (
	listen     = flag.String("listen", ":8080", "debug/admin HTTP listen address")
	configPath = flag.String("config", "", "path to a tuning config JSON file (defaults to config/tuning.defaults.json)")
)

func main() {
	flag.Parse()

	cfg := loadConfig(*configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	index, err := fileindex.Open(filepath.Join(cfg.GetOutputDir(), "index.db"))
	if err != nil {
		log.Fatalf("failed to open file index: %v", err)
	}
	defer index.Close()

	rawSink, err := storage.Open(storage.Config{
		Fields:           ingest.AngleCSVFields,
		OutputDir:        cfg.GetOutputDir(),
		RotationInterval: cfg.GetRotationInterval(),
		Mode:             startupMode(cfg.GetStartupMode()),
		Index:            index,
	})
	if err != nil {
		log.Fatalf("failed to open raw CSV sink: %v", err)
	}

	processedSink, err := storage.Open(storage.Config{
		Fields:           ingest.ProcessedCSVFields,
		OutputDir:        filepath.Join(cfg.GetOutputDir(), "processed"),
		RotationInterval: cfg.GetRotationInterval(),
		Mode:             startupMode(cfg.GetStartupMode()),
		Index:            index,
	})
	if err != nil {
		log.Fatalf("failed to open processed CSV sink: %v", err)
	}

	gpsSink, err := storage.Open(storage.Config{
		Fields:           ingest.GPSCSVFields,
		OutputDir:        filepath.Join(cfg.GetOutputDir(), "gps"),
		RotationInterval: cfg.GetRotationInterval(),
		Mode:             startupMode(cfg.GetStartupMode()),
		Index:            index,
	})
	if err != nil {
		log.Fatalf("failed to open GPS CSV sink: %v", err)
	}

	tap := ingest.NewTap()
	live := &livePort{}
	cp := sensorconfig.New(live)

	var wg sync.WaitGroup

	// debug/admin HTTP server: file index SQL console, §6.2 sensor config
	// commands, and the live decoded-sample tail.
	wg.Add(1)
	go func() {
		defer wg.Done()
		runAdminServer(ctx, index, cp, tap)
	}()

	// pipeline reconnect loop: establish a connection, run a Pipeline
	// against it until it stops, and reconnect unless the stop was
	// triggered by ctx (process shutdown).
	wg.Add(1)
	go func() {
		defer wg.Done()
		runPipelineLoop(ctx, cfg, rawSink, processedSink, gpsSink, tap, live)
	}()

	wg.Wait()
	tap.Close()
	if err := rawSink.Close(); err != nil {
		log.Printf("error closing raw sink: %v", err)
	}
	if err := processedSink.Close(); err != nil {
		log.Printf("error closing processed sink: %v", err)
	}
	if err := gpsSink.Close(); err != nil {
		log.Printf("error closing GPS sink: %v", err)
	}
	log.Printf("shutdown complete")
}

func loadConfig(path string) *config.TuningConfig {
	if path == "" {
		return config.MustLoadDefaultConfig()
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		log.Fatalf("failed to load config %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config %s: %v", path, err)
	}
	return cfg
}

func startupMode(mode string) storage.StartupMode {
	if mode == "continue_file" {
		return storage.ContinueFile
	}
	return storage.NewFile
}

func filterKind(s string) motion.FilterKind {
	switch s {
	case "sma":
		return motion.FilterMovingAverage
	case "ema":
		return motion.FilterLowPass
	default:
		return motion.FilterNone
	}
}

// runAdminServer mounts the debug admin surface (tailsql over the file
// index, the §6.2 sensor config commands, and the ingest tail) and serves
// it until ctx is canceled, shutting down gracefully within 5s.
func runAdminServer(ctx context.Context, index *fileindex.DB, cp *sensorconfig.ConfigProtocol, tap *ingest.Tap) {
	mux := http.NewServeMux()
	index.AttachAdminRoutes(mux)
	sensorconfig.AttachAdminRoutes(mux, cp)
	ingest.AttachAdminRoutes(mux, tap)

	server := &http.Server{Addr: *listen, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down admin server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("admin server shutdown error: %v", err)
	}
}

// errNoActivePort is returned by livePort's Write/Read when no sensor
// connection is currently established — e.g. an admin config command
// arrives while the pipeline is between reconnect attempts.
var errNoActivePort = errors.New("main: no active sensor connection")

// livePort satisfies sensorconfig.Port by forwarding to whichever
// transport.SensorPort the pipeline reconnect loop currently holds, so a
// single sensorconfig.ConfigProtocol (and the admin routes built on it)
// can survive the pipeline reconnecting to a fresh port underneath it.
type livePort struct {
	mu   sync.Mutex
	port *transport.SensorPort
}

func (lp *livePort) set(p *transport.SensorPort) {
	lp.mu.Lock()
	lp.port = p
	lp.mu.Unlock()
}

func (lp *livePort) current() *transport.SensorPort {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.port
}

func (lp *livePort) Write(p []byte) (int, error) {
	port := lp.current()
	if port == nil {
		return 0, errNoActivePort
	}
	return port.Write(p)
}

func (lp *livePort) Read(p []byte) (int, error) {
	port := lp.current()
	if port == nil {
		return 0, errNoActivePort
	}
	return port.Read(p)
}

// runPipelineLoop owns the sensor connection end to end: discover and
// open a port, verify its baudrate, and run an ingest.Pipeline against it until it stops on its own (a
// transport error) or ctx is canceled (process shutdown).
func runPipelineLoop(ctx context.Context, cfg *config.TuningConfig, rawSink, processedSink, gpsSink *storage.RotatingCsvSink, tap *ingest.Tap, live *livePort) {
	supervisor := transport.NewSupervisor(transport.Options{
		PreferredPort:  cfg.GetPreferredPort(),
		Baud:           cfg.GetBaudrate(),
		VerifyBaudrate: true,
		ErrorThreshold: cfg.GetErrorThreshold(),
		MaxBackoff:     time.Duration(cfg.GetMaxBackoffSeconds()) * time.Second,
	})

	processor := motion.New(motion.Params{
		SampleFrameSize:     cfg.GetSampleFrameSize(),
		CalcFrameMultiplier: cfg.GetCalcFrameMultiplier(),
		Dt:                  cfg.GetSampleDtSeconds(),
		ForgettingFactor:    cfg.GetForgettingFactor(),
		WarmupFrames:        cfg.GetWarmupFrames(),
		FilterKind:          filterKind(cfg.GetFilterKind()),
		FilterWindow:        cfg.GetFilterWindow(),
		FilterAlpha:         cfg.GetFilterAlpha(),
		NFFT:                cfg.GetNFFT(),
		MinFreqHz:           cfg.GetMinFreqHz(),
		MaxFreqHz:           cfg.GetMaxFreqHz(),
	})

	for {
		port, err := supervisor.Establish(ctx)
		if err != nil {
			log.Printf("giving up establishing a connection: %v", err)
			return
		}
		live.set(port)

		p := ingest.New(ingest.Config{
			Source:          port,
			RawSink:         rawSink,
			MotionProcessor: processor,
			ProcessedSink:   processedSink,
			GPSSink:         gpsSink,
			GPSUnit:         cfg.GetGPSSpeedUnit(),
			Tap:             tap,
			Supervisor:      supervisor,
			QueueCapacity:   cfg.GetQueueCapacity(),
			GetTimeout:      cfg.GetStageGetTimeout(),
			JoinTimeout:     cfg.GetStageJoinTimeout(),
			RateInterval:    cfg.GetRateReportInterval(),
		})

		monitoring.Logf("main: pipeline %s running on %s", p.RunID, port.PortName)
		p.Run(ctx)
		if err := port.Close(); err != nil {
			monitoring.Logf("main: error closing %s: %v", port.PortName, err)
		}
		live.set(nil)

		if p.ExternalStop() {
			return
		}

		backoff := supervisor.NextBackoff()
		monitoring.Logf("main: pipeline %s stopped unexpectedly, reconnecting in %s", p.RunID, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}
