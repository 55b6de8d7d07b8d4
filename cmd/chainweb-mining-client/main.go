// Command chainweb-mining-client mines a Kadena Chainweb chain against
// a node's mining API, either with a local worker or by exposing a
// Stratum V1 server for external ASIC/FPGA miners.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"chainweb-mining-client/internal/config"
	"chainweb-mining-client/internal/coordinator"
	"chainweb-mining-client/internal/logging"
	"chainweb-mining-client/internal/nodeclient"
	"chainweb-mining-client/internal/preempt"
	"chainweb-mining-client/internal/stratum"
	"chainweb-mining-client/internal/work"
	"chainweb-mining-client/internal/worker"
)

func main() {
	os.Exit(run())
}

// run wires every subsystem and blocks until shutdown, returning a
// process exit code.
func run() int {
	flagSet, err := config.ParseArgs(os.Args[1:])
	if err != nil {
		if config.IsHelp(err) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "chainweb-mining-client: %v\n", err)
		return 1
	}

	if flagSet.GenerateKey {
		kp, err := config.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "chainweb-mining-client: %v\n", err)
			return 1
		}
		fmt.Printf("public:  %s\nsecret:  %s\naccount: %s\n", kp.PublicKeyHex, kp.PrivateKeyHex, kp.Account)
		return 0
	}

	cfg, err := config.Load(flagSet.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chainweb-mining-client: %v\n", err)
		return 1
	}
	config.Overlay(cfg, flagSet)

	if flagSet.PrintConfig {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "chainweb-mining-client: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "chainweb-mining-client: invalid config: %v\n", err)
		return 1
	}

	log, err := logging.New(logging.Config{
		Level:         cfg.Logging.Level,
		JSON:          cfg.Logging.JSON,
		FilePath:      cfg.Logging.FilePath,
		MaxFileSizeKB: cfg.Logging.MaxFileSizeKB,
		MaxRolls:      cfg.Logging.MaxRolls,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "chainweb-mining-client: logging: %v\n", err)
		return 1
	}
	log.Info("chainweb-mining-client: starting up")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(flagSet.ConfigFile) > 0 {
		reloadStop := make(chan struct{})
		defer close(reloadStop)
		watchPath := flagSet.ConfigFile[len(flagSet.ConfigFile)-1]
		if err := config.Watch(watchPath, logging.Component(log, "config"), func(updated *config.Config) {
			log.WithField("level", updated.Logging.Level).Info("config: hot-reload observed (most settings require a restart to apply)")
		}, reloadStop); err != nil {
			log.WithError(err).Warn("chainweb-mining-client: config hot-reload disabled")
		}
	}

	nodeOpts := []nodeclient.Option{
		nodeclient.WithTimeout(time.Duration(cfg.Node.TimeoutSec) * time.Second),
		nodeclient.WithMaxRetries(cfg.Node.MaxRetries),
		nodeclient.WithLogger(logging.Component(log, "nodeclient")),
	}
	if cfg.Node.InsecureSkipVerify {
		nodeOpts = append(nodeOpts, nodeclient.WithInsecureSkipVerify())
	}
	if cfg.Node.Version != "" {
		nodeOpts = append(nodeOpts, nodeclient.WithVersion(cfg.Node.Version))
	}
	node := nodeclient.New(cfg.Node.URL, work.ChainID(cfg.Node.ChainID), nodeOpts...)

	w, shutdownWorker, err := buildWorker(cfg, log)
	if err != nil {
		log.WithError(err).Error("chainweb-mining-client: worker setup failed")
		return 2
	}
	defer shutdownWorker()

	strategy := buildPreemptStrategy(cfg.Preempt)

	coord := &coordinator.Coordinator{
		Node:       node,
		Worker:     w,
		Strategy:   strategy,
		Account:    cfg.Node.Account,
		Predicate:  cfg.Node.Predicate,
		PublicKeys: cfg.Node.PublicKeys,
		Log:        logging.Component(log, "coordinator"),
	}

	if err := coord.Run(ctx); err != nil {
		log.WithError(err).Error("chainweb-mining-client: coordinator exited with error")
		return 2
	}

	log.Info("chainweb-mining-client: shut down cleanly")
	return 0
}

var noopShutdown = func() {}

// buildWorker constructs the configured worker kind and a shutdown func
// that tears down whatever background listener that kind started (the
// Stratum server's socket, the OnDemand worker's HTTP server); kinds
// with no background state return noopShutdown.
func buildWorker(cfg *config.Config, log *logrus.Logger) (worker.Worker, func(), error) {
	switch cfg.Worker.Kind {
	case "cpu":
		return &worker.CPU{Threads: cfg.Worker.Threads}, noopShutdown, nil

	case "external":
		return &worker.External{
			Command:   cfg.Worker.Command,
			Args:      cfg.Worker.Args,
			KillGrace: time.Duration(cfg.Worker.KillGraceSec) * time.Second,
			Log:       logging.Component(log, "worker.external"),
		}, noopShutdown, nil

	case "simulation":
		return &worker.Simulation{
			HashRate: cfg.Worker.HashRate,
			Rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		}, noopShutdown, nil

	case "constant-delay":
		return &worker.ConstantDelay{Delay: time.Duration(cfg.Worker.DelayMS) * time.Millisecond}, noopShutdown, nil

	case "on-demand":
		od := &worker.OnDemand{Addr: cfg.Worker.OnDemandAddr, Log: logging.Component(log, "worker.ondemand")}
		if err := od.Start(); err != nil {
			return nil, nil, fmt.Errorf("start on-demand worker: %w", err)
		}
		shutdown := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			od.Stop(ctx)
		}
		return od, shutdown, nil

	case "stratum":
		diffCfg := stratum.DifficultyConfig{
			FixedLevel:      cfg.Stratum.FixedLevel,
			TargetTimeSec:   cfg.Stratum.TargetTimeSec,
			RetargetTimeSec: cfg.Stratum.RetargetTimeSec,
			VariancePct:     cfg.Stratum.VariancePct,
			MinLevel:        cfg.Stratum.MinLevel,
			MaxLevel:        cfg.Stratum.MaxLevel,
		}
		switch cfg.Stratum.DifficultyMode {
		case "fixed":
			diffCfg.Mode = stratum.DifficultyModeFixed
		case "period":
			diffCfg.Mode = stratum.DifficultyModePeriod
		default:
			diffCfg.Mode = stratum.DifficultyModeBlock
		}

		srv := stratum.NewServer(cfg.Stratum.Addr, diffCfg, logging.Component(log, "stratum"))
		if err := srv.Start(); err != nil {
			return nil, nil, fmt.Errorf("start stratum server: %w", err)
		}
		return srv.AsWorker(), srv.Stop, nil

	default:
		return nil, nil, fmt.Errorf("unknown worker kind %q", cfg.Worker.Kind)
	}
}

func buildPreemptStrategy(cfg config.PreemptConfig) preempt.Strategy {
	switch cfg.Strategy {
	case "conditional":
		return &preempt.Conditional{}
	case "rate-limited":
		return &preempt.RateLimited{Interval: time.Duration(cfg.IntervalMS) * time.Millisecond}
	default:
		return &preempt.Immediate{}
	}
}
