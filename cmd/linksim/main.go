package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/logutils"
	"github.com/spf13/pflag"

	"github.com/jeongseonghan/gam-linksim/internal/capture"
	"github.com/jeongseonghan/gam-linksim/internal/config"
	"github.com/jeongseonghan/gam-linksim/internal/link"
	"github.com/jeongseonghan/gam-linksim/internal/metrics"
	"github.com/jeongseonghan/gam-linksim/internal/server"
)

var (
	configFile = pflag.StringP("config", "c", "", "YAML configuration file (defaults are used when empty)")
	runsArg    = pflag.IntP("runs", "n", 0, "Number of transport blocks to send")
	snrArg     = pflag.Float64P("snr", "s", 0, "Channel SNR in dB")
	seedArg    = pflag.Int64("seed", 0, "Seed for the channel and payload generators")
	bpsArg     = pflag.IntP("bps", "b", 0, "Bits per GAM symbol (2..6)")
	retriesArg = pflag.IntP("retries", "r", 0, "Whole-transmission retries after a CRC failure")
	scoModeArg = pflag.String("sco-mode", "", "SCO correction mode (uniform, ramp)")
	transArg   = pflag.String("transform", "", "OFDM transform backend (dft, fft)")
	captureArg = pflag.String("capture", "", "Write received frames to this zstd capture file")
	pushURLArg = pflag.String("push-url", "", "Prometheus Pushgateway URL")
	listenArg  = pflag.StringP("listen", "l", "", "Serve /metrics, /api and /ws on this address")
	holdArg    = pflag.Bool("hold", false, "Keep serving after the batch completes until interrupted")
	isDebugArg = pflag.BoolP("debug", "d", false, "Emit debug logging")
	logDestArg = pflag.String("log", "", "Log file (default stderr)")
	helpArg    = pflag.BoolP("help", "h", false, "Print usage")
)

func main() {
	pflag.Parse()

	if *helpArg {
		pflag.Usage()
		return
	}
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
}

func setupLogging() {
	var err error
	minLogLevel := "INFO"
	if *isDebugArg {
		minLogLevel = "DEBUG"
	}
	logWriter := os.Stderr
	if *logDestArg != "" {
		logWriter, err = os.OpenFile(*logDestArg, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Error opening log file, exiting: %v", err)
		}
	}

	filter := &logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"},
		MinLevel: logutils.LogLevel(minLogLevel),
		Writer:   logWriter,
	}
	log.SetOutput(filter)
	log.Print("[DEBUG] Debug is on")
}

// loadConfig reads the file, then lets explicitly set flags win.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	flags := pflag.CommandLine
	if flags.Changed("runs") {
		cfg.Simulation.Runs = *runsArg
	}
	if flags.Changed("snr") {
		cfg.Channel.SNRdB = *snrArg
	}
	if flags.Changed("seed") {
		cfg.Simulation.Seed = *seedArg
	}
	if flags.Changed("bps") {
		cfg.Modulation.BitsPerSymbol = *bpsArg
	}
	if flags.Changed("retries") {
		cfg.Simulation.MaxRetries = *retriesArg
	}
	if flags.Changed("sco-mode") {
		cfg.Sync.SCOMode = *scoModeArg
	}
	if flags.Changed("transform") {
		cfg.OFDM.Transform = *transArg
	}
	if flags.Changed("capture") {
		cfg.Output.CapturePath = *captureArg
	}
	if flags.Changed("push-url") {
		cfg.Output.PushURL = *pushURLArg
	}
	if flags.Changed("listen") {
		cfg.Output.Listen = *listenArg
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func run(cfg *config.Config) error {
	runID := uuid.NewString()
	log.Printf("[INFO] run %s: %d blocks, GAM-%d, SNR %.1f dB, seed %d",
		runID, cfg.Simulation.Runs, 1<<cfg.Modulation.BitsPerSymbol, cfg.Channel.SNRdB, cfg.Simulation.Seed)

	l, err := link.New(cfg)
	if err != nil {
		return fmt.Errorf("build link: %w", err)
	}

	m := metrics.New()
	m.SetSNR(cfg.Channel.SNRdB)
	// The payload generator is seeded apart from the channel.
	d := link.NewDriver(l, uint64(cfg.Simulation.Seed)+1, m)

	if cfg.Output.CapturePath != "" {
		w, err := capture.Create(cfg.Output.CapturePath)
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				log.Printf("[ERROR] capture: %v", err)
				return
			}
			log.Printf("[INFO] captured %d frames to %s", w.Records(), cfg.Output.CapturePath)
		}()
		d.AddObserver(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *server.Server
	var h *server.Handlers
	if cfg.Output.Listen != "" {
		h = server.NewHandlers(cfg, d, m, runID)
		d.AddObserver(h)
		srv = server.NewServer(cfg.Output.Listen, h)
		go func() {
			if err := srv.Start(); err != nil {
				log.Printf("[ERROR] server: %v", err)
				stop()
			}
		}()
	}

	summary, err := d.Run(ctx, cfg.Simulation.Runs)
	printSummary(os.Stdout, runID, cfg, summary)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil {
		log.Printf("[WARN] run interrupted after %d transmissions", summary.Transmissions)
	}

	if cfg.Output.PushURL != "" {
		if err := m.Push(cfg.Output.PushURL, cfg.Output.PushJob, runID); err != nil {
			log.Printf("[ERROR] %v", err)
		} else {
			log.Printf("[INFO] pushed metrics to %s", cfg.Output.PushURL)
		}
	}

	if srv != nil {
		h.Hub().BroadcastSummary(summary)
		h.Hub().BroadcastStatus(d.State(), "batch finished")
		if *holdArg && ctx.Err() == nil {
			log.Printf("[INFO] holding server open, interrupt to exit")
			<-ctx.Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] server shutdown: %v", err)
		}
	}
	return nil
}
