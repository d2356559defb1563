// Command framectl opens the links described in a TOML file and logs every
// envelope they produce.
//
// The log level comes from FRAMER_LOG_LEVEL, which may also be set in a .env
// file in the working directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/go-framer/config"
	"github.com/arloliu/go-framer/dispatch"
	"github.com/arloliu/go-framer/envelope"
	"github.com/arloliu/go-framer/logger"
	"github.com/arloliu/go-framer/metrics"
	"github.com/arloliu/go-framer/receiver"
	"github.com/arloliu/go-framer/registry"
)

func main() {
	configPath := flag.String("config", "framectl.toml", "path of the link configuration file")
	metricsAddr := flag.String("metrics", "", "metrics listen address, overrides metrics_addr")
	flag.Parse()

	// a missing .env file is not an error
	_ = godotenv.Load()

	level, ok := logger.ParseLevel(os.Getenv("FRAMER_LOG_LEVEL"))
	if !ok {
		level = logger.InfoLevel
	}
	log := logger.NewSlog(level, false)
	logger.SetLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *metricsAddr, log); err != nil {
		fmt.Fprintf(os.Stderr, "framectl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, metricsAddr string, log logger.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	metrics.RegisterMetrics()

	queue := dispatch.NewQueue()
	reg := registry.New(queue,
		registry.WithLogger(log),
		registry.WithDisconnectHandler(func(key string, _ receiver.Transport) {
			log.Warn("link disconnected", "key", key)
		}),
	)
	defer reg.Close()

	disp := dispatch.NewDispatcher(queue, dispatch.WithLogger(log))
	disp.Subscribe(dispatch.AllTypes, func(env *envelope.Envelope) {
		log.Info("envelope", "envelope", env.String())
	})

	if err := openLinks(ctx, reg, cfg.Links, log); err != nil {
		return err
	}

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		srv = serveMetrics(cfg.MetricsAddr, log)
	}

	if err := disp.Run(ctx, cfg.Tick()); err != nil {
		return err
	}
	log.Info("framectl running", "links", len(cfg.Links), "receivers", reg.Len())

	<-ctx.Done()
	log.Info("shutting down")

	disp.Stop()
	// deliver what was queued before the signal
	disp.Tick()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown", "error", err)
		}
	}

	return nil
}

// openLinks opens every configured link on reg.
func openLinks(ctx context.Context, reg *registry.Registry, links []config.Link, log logger.Logger) error {
	for _, link := range links {
		rcvCfg, err := link.ReceiverConfig(receiver.WithLogger(log))
		if err != nil {
			return fmt.Errorf("link %q: %w", link.Name, err)
		}

		switch link.Transport {
		case config.TransportTCPDial:
			_, err = reg.DialTCP(ctx, link.Address, rcvCfg)
		case config.TransportTCPListen:
			var addr net.Addr
			addr, err = reg.ListenTCP(ctx, link.Address, rcvCfg)
			if err == nil {
				log.Info("listening", "link", link.Name, "addr", addr.String())
			}
		case config.TransportUDP:
			_, err = reg.ListenUDP(ctx, link.Address, rcvCfg)
		case config.TransportSerial:
			_, err = reg.OpenSerial(link.Address, link.BaudRate, rcvCfg)
		default:
			err = fmt.Errorf("unknown transport %q", link.Transport)
		}
		if err != nil {
			return fmt.Errorf("open link %q: %w", link.Name, err)
		}
	}

	return nil
}

func serveMetrics(addr string, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	return srv
}
