package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sellerbatch/internal/batch"
	"github.com/ternarybob/sellerbatch/internal/common"
)

var (
	configPath   = flag.String("config", "", "Configuration file path (default "+common.DefaultConfigPath+")")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: sellerbatch [flags] <command> [command flags]

Commands:
  single       Run one stage over one or more accounts
  multi        Run several stages for one account
  multi-batch  Run one stage across accounts strictly one at a time
  scenario     Run a named preset from the config (add -watch for schedules)
  accounts     List the accounts in the spreadsheet
  scenarios    List the named presets in the config
  config       Print the effective configuration

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("SellerBatch version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	verb := flag.Arg(0)
	args := flag.Args()[1:]

	// Startup order: config, then logger, then banner.
	var err error
	config, err = common.LoadFromFile(*configPath)

	sessionID := common.NewSessionID()
	switch verb {
	case "single", "multi", "multi-batch", "scenario":
		unified := filepath.Join("logs", "unified", sessionID, "batch_execution.log")
		logger = common.InitLogger(config, unified)
	default:
		logger = common.InitLogger(config)
	}
	common.PrintBanner()
	if err != nil {
		// A malformed config file still yields usable defaults.
		logger.Warn().Err(err).Msg("Configuration file was not usable, running with defaults")
	}

	code, runErr := dispatch(verb, args, sessionID)
	if runErr != nil {
		logger.Error().Err(runErr).Str("command", verb).Msg("Command failed")
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

// dispatch routes the verb to its command. The returned code is the
// process exit code: 0 only when every task unit succeeded.
func dispatch(verb string, args []string, sessionID string) (int, error) {
	switch verb {
	case "accounts":
		return cmdAccounts()
	case "scenarios":
		return cmdScenarios()
	case "config":
		return cmdConfig(args)
	case "single", "multi", "multi-batch", "scenario":
		manager, err := batch.NewManager(config, sessionID, logger)
		if err != nil {
			return 1, err
		}
		defer manager.Close()

		ctx, stop := withCancelOnSignal(manager)
		defer stop()

		switch verb {
		case "single":
			return cmdSingle(ctx, manager, args)
		case "multi":
			return cmdMulti(ctx, manager, args)
		case "multi-batch":
			return cmdMultiBatch(ctx, manager, args)
		default:
			return cmdScenario(ctx, manager, args)
		}
	default:
		usage()
		return 2, fmt.Errorf("unknown command %q", verb)
	}
}

// withCancelOnSignal maps the first SIGINT/SIGTERM to cooperative
// cancellation; a second signal kills the process.
func withCancelOnSignal(manager *batch.Manager) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Warn().Msg("Interrupt received, finishing current chunks")
		manager.Cancel()
		cancel()
		<-sigCh
		logger.Error().Msg("Second interrupt, exiting immediately")
		os.Exit(130)
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
