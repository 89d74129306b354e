package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/sellerbatch/internal/accounts"
	"github.com/ternarybob/sellerbatch/internal/batch"
	"github.com/ternarybob/sellerbatch/internal/models"
	"github.com/ternarybob/sellerbatch/internal/scheduler"
	"github.com/ternarybob/sellerbatch/internal/stages"
)

func cmdSingle(ctx context.Context, manager *batch.Manager, args []string) (int, error) {
	fs := flag.NewFlagSet("single", flag.ContinueOnError)
	step := fs.Int("step", 0, "Stage number (1, 21 for 2_1, 53 for 5_3, ...)")
	accountList := fs.String("accounts", "", "Comma-separated account ids or emails")
	quantity := fs.Int("quantity", 0, "Items to process per account (0 = config default)")
	concurrent := fs.Bool("concurrent", false, "Run accounts through the worker pool")
	interval := fs.Float64("interval", 5, "Seconds between accounts in sequential mode")
	chunkSize := fs.Int("chunk-size", 0, "Items per browser session (0 = no restarts)")
	output := fs.String("output", "", "Write the batch result JSON to this path")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}

	stageID, err := stages.ParseID(*step)
	if err != nil {
		return 2, err
	}
	ids := splitList(*accountList)
	ids = append(ids, fs.Args()...)
	if len(ids) == 0 {
		return 2, fmt.Errorf("at least one account is required")
	}

	result := manager.RunSingleStep(ctx, batch.SingleStepRequest{
		StageID:    stageID,
		Accounts:   ids,
		Quantity:   *quantity,
		Concurrent: *concurrent,
		Interval:   time.Duration(*interval * float64(time.Second)),
		ChunkSize:  *chunkSize,
	})
	return finishRun(manager, result, *output)
}

func cmdMulti(ctx context.Context, manager *batch.Manager, args []string) (int, error) {
	fs := flag.NewFlagSet("multi", flag.ContinueOnError)
	account := fs.String("account", "", "Account id or email")
	stepList := fs.String("steps", "", "Comma-separated stage numbers, run in order")
	quantityList := fs.String("quantities", "", "Comma-separated quantities, one per step")
	concurrent := fs.Bool("concurrent", false, "Accepted for symmetry; stages always run in order")
	output := fs.String("output", "", "Write the batch result JSON to this path")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}
	if *account == "" || *stepList == "" {
		return 2, fmt.Errorf("-account and -steps are required")
	}
	if *concurrent {
		logger.Warn().Msg("Stages of one account run sequentially; -concurrent has no effect")
	}

	var stageIDs []string
	for _, token := range splitList(*stepList) {
		id, err := stages.NormalizeID(token)
		if err != nil {
			return 2, err
		}
		stageIDs = append(stageIDs, id)
	}

	var quantities []int
	for _, token := range splitList(*quantityList) {
		q, err := strconv.Atoi(token)
		if err != nil {
			return 2, fmt.Errorf("invalid quantity %q", token)
		}
		quantities = append(quantities, q)
	}

	result := manager.RunMultiStep(ctx, *account, stageIDs, quantities)
	return finishRun(manager, result, *output)
}

func cmdMultiBatch(ctx context.Context, manager *batch.Manager, args []string) (int, error) {
	fs := flag.NewFlagSet("multi-batch", flag.ContinueOnError)
	step := fs.Int("step", 1, "Stage number")
	quantity := fs.Int("quantity", 0, "Items to process per account (0 = config default)")
	interval := fs.Float64("interval", 5, "Seconds between accounts")
	output := fs.String("output", "", "Write the batch result JSON to this path")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}

	ids := fs.Args()
	if len(ids) == 0 {
		return 2, fmt.Errorf("at least one account is required")
	}
	stageID, err := stages.ParseID(*step)
	if err != nil {
		return 2, err
	}

	result := manager.RunMultiBatch(ctx, ids, stageID, *quantity, time.Duration(*interval*float64(time.Second)))
	return finishRun(manager, result, *output)
}

func cmdScenario(ctx context.Context, manager *batch.Manager, args []string) (int, error) {
	fs := flag.NewFlagSet("scenario", flag.ContinueOnError)
	watch := fs.Bool("watch", false, "Keep running and dispatch every scheduled scenario on its cron expression")
	output := fs.String("output", "", "Write the batch result JSON to this path")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}

	if *watch {
		return watchScenarios(ctx, manager)
	}

	name := fs.Arg(0)
	if name == "" {
		return 2, fmt.Errorf("scenario name is required")
	}
	scenario, ok := config.Scenarios[name]
	if !ok {
		return 2, fmt.Errorf("unknown scenario %q", name)
	}

	result := manager.RunScenario(ctx, name, scenario)
	return finishRun(manager, result, *output)
}

func watchScenarios(ctx context.Context, manager *batch.Manager) (int, error) {
	sched := scheduler.New(manager, logger)
	added, err := sched.Add(ctx, config.Scenarios)
	if err != nil {
		return 1, err
	}
	if added == 0 {
		return 2, fmt.Errorf("no scenario in the config carries a schedule")
	}

	sched.Start()
	<-ctx.Done()
	sched.Stop()

	manager.WriteSummary()
	manager.WriteExecutionSummary()
	return 0, nil
}

func cmdAccounts() (int, error) {
	store := accounts.NewStore(config.Accounts.File, logger)
	all := store.All()
	if len(all) == 0 {
		fmt.Println("No accounts loaded.")
		return 0, nil
	}

	fmt.Printf("%-12s %-32s %-20s %-8s\n", "ID", "EMAIL", "NAME", "ACTIVE")
	for _, a := range all {
		fmt.Printf("%-12s %-32s %-20s %-8t\n", a.ID, a.Email, a.Name, a.Active)
	}
	fmt.Printf("\n%d account(s), %d active\n", len(all), store.Summary().Active)
	return 0, nil
}

func cmdScenarios() (int, error) {
	if len(config.Scenarios) == 0 {
		fmt.Println("No scenarios configured.")
		return 0, nil
	}

	names := make([]string, 0, len(config.Scenarios))
	for name := range config.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("%-20s %-6s %-10s %-10s %s\n", "NAME", "STEP", "QUANTITY", "ACCOUNTS", "SCHEDULE")
	for _, name := range names {
		s := config.Scenarios[name]
		schedule := s.Schedule
		if schedule == "" {
			schedule = "-"
		}
		accountsLabel := "all-active"
		if len(s.Accounts) > 0 {
			accountsLabel = strconv.Itoa(len(s.Accounts))
		}
		fmt.Printf("%-20s %-6d %-10d %-10s %s\n", name, s.Step, s.Quantity, accountsLabel, schedule)
	}
	return 0, nil
}

func cmdConfig(args []string) (int, error) {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	format := fs.String("format", "json", "Output format: json, yaml, or toml")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}

	var (
		data []byte
		err  error
	)
	switch *format {
	case "json":
		data, err = json.MarshalIndent(config, "", "  ")
	case "yaml":
		data, err = yaml.Marshal(config)
	case "toml":
		data, err = toml.Marshal(config)
	default:
		return 2, fmt.Errorf("unknown format %q", *format)
	}
	if err != nil {
		return 1, fmt.Errorf("failed to render configuration: %w", err)
	}
	fmt.Println(string(data))
	return 0, nil
}

// finishRun emits the session reports, optionally writes the result JSON,
// and maps the outcome to the process exit code.
func finishRun(manager *batch.Manager, result models.BatchResult, outputPath string) (int, error) {
	manager.WriteSummary()
	manager.WriteExecutionSummary()

	if outputPath != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err == nil {
			err = os.WriteFile(outputPath, data, 0o644)
		}
		if err != nil {
			logger.Warn().Err(err).Str("path", outputPath).Msg("Failed to write result file")
		}
	}

	fmt.Printf("\nTask %s: processed=%d failed=%d success=%t\n",
		result.TaskID, result.Processed(), result.FailedCount(), result.Success)
	if !result.Success {
		return 1, nil
	}
	return 0, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
