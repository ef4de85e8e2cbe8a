package cli

import (
	"context"
	"fmt"
	"iter"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/colthorp/vitals-cli-go/internal/api"
	"github.com/colthorp/vitals-cli-go/internal/cache"
	"github.com/colthorp/vitals-cli-go/internal/core"
	"github.com/colthorp/vitals-cli-go/internal/output"
	"github.com/colthorp/vitals-cli-go/internal/stats"
)

func init() {
	// Add all subcommands
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(patientsCmd)
	rootCmd.AddCommand(vitalsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(mcpCmd)

	// Report command flags
	reportCmd.Flags().String("start", "", fmt.Sprintf("First date of the window, inclusive (default: %s)", core.DefaultStartDate))
	reportCmd.Flags().String("stop", "", fmt.Sprintf("End of the window, exclusive (default: %s)", core.DefaultStopDate))
	reportCmd.Flags().Int("min-count", core.DefaultMinCount, "Only report vitals observed at least this many times")
	reportCmd.Flags().IntP("parallel", "p", 1, "Max patients to fetch in parallel")

	// Search command flags
	searchCmd.Flags().String("sub", "", "Sub-resource to search (e.g. _search)")
	searchCmd.Flags().StringToString("param", nil, "Query parameter as key=value (repeatable)")
}

// reportCmd handles the community report
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report how often each vital sign was measured across all patients",
	Args:  cobra.NoArgs,
	RunE:  handleReport,
}

// patientsCmd lists patient ids
var patientsCmd = &cobra.Command{
	Use:   "patients",
	Short: "List the ids of all patients",
	Args:  cobra.NoArgs,
	RunE:  handlePatients,
}

// vitalsCmd shows the observations of one patient
var vitalsCmd = &cobra.Command{
	Use:   "vitals [patient_id]",
	Short: "Show the measured vital signs of one patient",
	Args:  cobra.ExactArgs(1),
	RunE:  handleVitals,
}

// searchCmd runs a raw collection search
var searchCmd = &cobra.Command{
	Use:   "search [collection]",
	Short: "Search a FHIR collection and list its entries (not cached)",
	Args:  cobra.ExactArgs(1),
	RunE:  handleSearch,
}

// mcpCmd starts the MCP server
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI integration",
	Args:  cobra.NoArgs,
	RunE:  handleMCP,
}

func handleReport(cmd *cobra.Command, args []string) error {
	adjust := func(cfg *core.Config) {
		flags := cmd.Flags()
		if flags.Changed("start") {
			cfg.StartDate, _ = flags.GetString("start")
		}
		if flags.Changed("stop") {
			cfg.StopDate, _ = flags.GetString("stop")
		}
		if flags.Changed("min-count") {
			cfg.MinCount, _ = flags.GetInt("min-count")
		}
		if flags.Changed("parallel") {
			cfg.Parallel, _ = flags.GetInt("parallel")
		}
	}

	return withEnvironment(cmd, adjust, func(ctx context.Context, env *environment) error {
		report, err := buildReport(ctx, env)
		if err != nil {
			return err
		}
		if raw {
			return output.WriteJSON(cmd.OutOrStdout(), report)
		}
		return output.WriteReport(cmd.OutOrStdout(), report)
	})
}

// buildReport lists the patients, aggregates their vitals over the
// configured window and keeps the codes seen at least MinCount times.
func buildReport(ctx context.Context, env *environment) (output.Report, error) {
	start, stop, err := env.cfg.Window()
	if err != nil {
		return output.Report{}, err
	}
	window := stats.Window{Start: start, Stop: stop}

	ids, err := env.manager.PatientIDs(ctx)
	if err != nil {
		return output.Report{}, err
	}
	env.logger.Debug("aggregating", "patients", len(ids),
		"start", core.FormatDate(start), "stop", core.FormatDate(stop), "parallel", env.cfg.Parallel)

	seq := env.withProgress(env.manager.StreamVitals(ctx, ids, env.cfg.Parallel), len(ids))
	res, err := stats.New(window, env.cfg.DateLayout).Aggregate(ctx, seq)
	if err != nil {
		return output.Report{}, err
	}
	return output.NewReport(res, window, len(ids), env.cfg.MinCount), nil
}

// withProgress prints a line for every patient as seq yields it.
func (e *environment) withProgress(seq iter.Seq2[cache.PatientVitals, error], total int) iter.Seq2[cache.PatientVitals, error] {
	return func(yield func(cache.PatientVitals, error) bool) {
		i := 0
		for pv, err := range seq {
			if err == nil {
				i++
				e.progressf("Reading patient (%d)/(%d): (%d)", i, total, pv.PatientID)
			}
			if !yield(pv, err) {
				return
			}
		}
	}
}

func handlePatients(cmd *cobra.Command, args []string) error {
	return withEnvironment(cmd, nil, func(ctx context.Context, env *environment) error {
		ids, err := env.manager.PatientIDs(ctx)
		if err != nil {
			return err
		}
		if raw {
			return output.WriteJSON(cmd.OutOrStdout(), ids)
		}
		return output.WriteIDs(cmd.OutOrStdout(), ids)
	})
}

func handleVitals(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid patient id '%s'", args[0])
	}

	return withEnvironment(cmd, nil, func(ctx context.Context, env *environment) error {
		vitals, err := env.manager.VitalsFor(ctx, id)
		if err != nil {
			return err
		}
		if raw {
			return output.WriteJSON(cmd.OutOrStdout(), vitals)
		}
		return output.WriteVitals(cmd.OutOrStdout(), vitals)
	})
}

func handleSearch(cmd *cobra.Command, args []string) error {
	collection := args[0]
	sub, _ := cmd.Flags().GetString("sub")
	params, _ := cmd.Flags().GetStringToString("param")

	return withEnvironment(cmd, nil, func(ctx context.Context, env *environment) error {
		entries, err := collectEntries(ctx, env, collection, sub, params)
		if err != nil {
			return err
		}
		if raw {
			return output.WriteJSON(cmd.OutOrStdout(), entries)
		}
		return output.WriteEntries(cmd.OutOrStdout(), entries)
	})
}

// collectEntries runs one search and gathers its entries.
func collectEntries(ctx context.Context, env *environment, collection, sub string, params map[string]string) ([]api.Entry, error) {
	entries := make([]api.Entry, 0)
	for entry, err := range env.fetcher.Search(ctx, collection, sub, params) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func handleMCP(cmd *cobra.Command, args []string) error {
	return withEnvironment(cmd, nil, func(ctx context.Context, env *environment) error {
		return newMCPServer(env, cmd.InOrStdin(), cmd.OutOrStdout()).Serve(ctx)
	})
}
