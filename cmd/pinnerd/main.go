package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stellar/go/keypair"

	"github.com/pinnerd/pinnerd/config"
	"github.com/pinnerd/pinnerd/internal/claim"
	"github.com/pinnerd/pinnerd/internal/daemon"
	"github.com/pinnerd/pinnerd/internal/executor"
	"github.com/pinnerd/pinnerd/internal/filter"
	"github.com/pinnerd/pinnerd/internal/hunter"
	"github.com/pinnerd/pinnerd/internal/ipc"
	"github.com/pinnerd/pinnerd/internal/ledgerclient"
	"github.com/pinnerd/pinnerd/internal/mode"
	"github.com/pinnerd/pinnerd/internal/store"
	"github.com/pinnerd/pinnerd/pkg/gateway"
	"github.com/pinnerd/pinnerd/pkg/kubo"
)

var (
	ConfigPath = flag.String("config", "", "Path to optional JSON config override")
	Verbosity  = flag.Int("verbosity", 0, "Debug logs")
)

// exit codes per spec §6.
const (
	exitClean           = 0
	exitConfigError     = 1
	exitNotPinnerError  = 2
)

func main() {
	flag.Parse()

	log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().Level(zerolog.InfoLevel)
	if *Verbosity > 0 {
		log.Logger = log.Logger.Level(zerolog.DebugLevel).With().Logger()
	}

	cfg, err := config.Load(*ConfigPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		os.Exit(exitConfigError)
	}

	secret, err := cfg.OperatorSecret()
	if err != nil {
		log.Error().Err(err).Msg("failed to read operator secret")
		os.Exit(exitConfigError)
	}
	kp, err := keypair.ParseFull(secret)
	if err != nil {
		log.Error().Err(err).Msg("failed to parse operator signing key")
		os.Exit(exitConfigError)
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to open state store")
		os.Exit(exitConfigError)
	}
	defer s.Close()

	seedMode := store.ModeApprove
	if cfg.DefaultMode == "AUTO" {
		seedMode = store.ModeAuto
	}
	if _, err := s.GetDaemonConfig(store.DaemonConfig{
		Mode:           seedMode,
		MinPrice:       cfg.DefaultMinPrice,
		MaxContentSize: cfg.DefaultMaxContentSize,
	}); err != nil {
		log.Error().Err(err).Msg("failed to seed daemon config")
		os.Exit(exitConfigError)
	}

	ledger := ledgerclient.New(cfg.RPCURL, cfg.HorizonURL, cfg.NetworkPassphrase, cfg.ContractID)

	if _, err := ledger.LatestLedger(context.Background()); err != nil {
		log.Error().Err(err).Msg("ledger rpc unreachable at startup")
		os.Exit(exitConfigError)
	}

	kuboClient := kubo.New(cfg.KuboRPCURL, &http.Client{Timeout: 15 * time.Second})
	gatewayClient := gateway.New(&http.Client{Timeout: time.Duration(cfg.FetchTimeoutSec) * time.Second})

	f := filter.New(s, ledger, &http.Client{Timeout: 5 * time.Second}, kp.Address(), cfg.ConservativeTxFee)

	exec := executor.New(gatewayClient, kuboClient, executor.Config{
		FetchTimeout: time.Duration(cfg.FetchTimeoutSec) * time.Second,
		AddTimeout:   time.Duration(cfg.AddTimeoutSec) * time.Second,
		PinTimeout:   time.Duration(cfg.PinTimeoutSec) * time.Second,
	})

	claimSubmitter := claim.New(s, ledger, kp)
	modeController := mode.New(s, exec, claimSubmitter, time.Duration(cfg.ApprovalQueueTTLSec)*time.Second)

	h := hunter.New(s, ledger, ledger, kp, kuboClient, hunter.Config{
		CycleInterval:       time.Duration(cfg.HunterCycleIntervalSec) * time.Second,
		MaxConcurrentChecks: cfg.HunterMaxConcurrentChecks,
		FailureThreshold:    cfg.HunterFailureThreshold,
		CooldownAfterFlag:   time.Duration(cfg.HunterCooldownAfterFlagSec) * time.Second,
		CheckTimeout:        time.Duration(cfg.HunterCheckTimeoutSec) * time.Second,
		RetrievalEnabled:    cfg.HunterRetrievalEnabled,
		PinnerCacheTTL:      time.Duration(cfg.PinnerCacheTTLSec) * time.Second,
	})

	d := daemon.New(s, ledger, f, modeController, claimSubmitter, h, exec, daemon.Config{
		OurAddress:     kp.Address(),
		PollInterval:   time.Duration(cfg.PollIntervalSec) * time.Second,
		MaxContentSize: cfg.DefaultMaxContentSize,
		UnpinOnEvent:   cfg.UnpinOnEvent,
	})

	ipcServer := ipc.New(s, modeController, h, ledger, cfg.IPCListenAddr)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received, draining in-flight work")
		cancel()
	}()

	var wg sync.WaitGroup
	exitCode := exitClean

	wg.Add(1)
	go func() {
		defer wg.Done()
		if cfg.HunterEnabled {
			h.RunScheduler(ctx)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ipcServer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("ipc server stopped with error")
		}
	}()

	if err := d.Run(ctx); err != nil {
		log.Error().Err(err).Msg("daemon loop exited with error")
		if isNotPinnerErr(err) {
			exitCode = exitNotPinnerError
		}
		cancel()
	}

	wg.Wait()
	os.Exit(exitCode)
}

func isNotPinnerErr(err error) bool {
	return errors.Is(err, claim.ErrNotPinner)
}
