// espictl runs a scripted link scenario: it builds the simulated bus,
// arms the checker with the scenario's script pair and drives the
// master transactions against it. Exit status reports both transaction
// failures and wire-level script mismatches.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/espilink/internal/config"
	"github.com/danmuck/espilink/internal/espi/link"
	"github.com/danmuck/espilink/internal/espi/slave"
	"github.com/danmuck/espilink/internal/logging"
	"github.com/danmuck/espilink/internal/observability"
	"github.com/danmuck/espilink/internal/scenario"
	"github.com/danmuck/espilink/internal/sim"
)

func main() {
	configPath := flag.String("config", "", "harness config file (TOML, optional)")
	scenarioPath := flag.String("scenario", "", "scenario file to run (YAML, required)")
	metricsAddr := flag.String("metrics", "", "serve /metrics on this address (overrides config)")
	flag.Parse()

	if err := run(*configPath, *scenarioPath, *metricsAddr); err != nil {
		fmt.Fprintf(os.Stderr, "espictl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, scenarioPath, metricsAddr string) error {
	logging.ConfigureRuntime()
	observability.RegisterMetrics()
	log := logging.Component("espictl")

	if scenarioPath == "" {
		return fmt.Errorf("-scenario is required")
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	sc, err := scenario.Load(scenarioPath)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics listener failed")
			}
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics exposed")
	}

	bus := sim.New(sim.Config{
		HalfPeriod: cfg.Link.HalfPeriod,
		Skew:       cfg.Link.Skew,
		Log:        logging.Component("bus"),
	})
	checker := slave.New(bus, slave.Config{
		Width:                cfg.Link.Width,
		AlertBetweenSegments: cfg.AlertBetweenSegments,
		Log:                  logging.Component("slave"),
	})
	cfg.Link.Log = logging.Component("link")
	l, err := link.New(bus, cfg.Link)
	if err != nil {
		return err
	}

	if err := checker.Load(sc.Script.Request, sc.Script.Response); err != nil {
		return err
	}

	runErr := scenario.Run(l, sc, log)

	if !checker.Good() {
		if runErr != nil {
			return fmt.Errorf("%w; script check failed: %s", runErr, checker.Failure())
		}
		return fmt.Errorf("script check failed: %s", checker.Failure())
	}
	if runErr != nil {
		return runErr
	}
	if n := bus.Contentions(); n > 0 {
		return fmt.Errorf("bus saw %d drive contentions", n)
	}
	log.Info().Str("scenario", sc.Name).Int("segments", checker.Segments()).Msg("scenario passed")
	return nil
}
