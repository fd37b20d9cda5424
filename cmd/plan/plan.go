// Package plan implements a dry run of one scheduling pass: it packs every
// due harvest definition and prints the jobs, without registering,
// dispatching or advancing anything.
package plan

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/cmd/common"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/catalog"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/config"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/database"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/estimate"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/lifecycle"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
)

const maxListedConfigs = 3

type options struct {
	fromFile string
	at       string
}

// Command returns the plan command.
func Command() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the jobs the next pass would generate",
		Long: `Pack every harvest definition that is due and print the resulting jobs.
Nothing is written: job ids are local to the run and definitions are not advanced.

The catalog is read from Postgres, or from a YAML fixture with --from-file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.fromFile, "from-file", "", "read the catalog from a YAML fixture instead of Postgres")
	cmd.Flags().StringVar(&opts.at, "at", "", "evaluate due definitions at this RFC3339 time (default now)")
	return cmd
}

// Catalog is where a plan reads due definitions and their pools from.
type Catalog interface {
	catalog.Source
	ReadyDefinitions(ctx context.Context, now time.Time) ([]domain.HarvestDefinition, error)
}

func runPlan(ctx context.Context, out io.Writer, opts options) error {
	cfg, err := common.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	now := time.Now()
	if opts.at != "" {
		if now, err = time.Parse(time.RFC3339, opts.at); err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
	}

	packing, err := bootstrap.NewPacking(cfg.JobGen)
	if err != nil {
		return err
	}

	var src Catalog
	if opts.fromFile != "" {
		mem, _, loadErr := catalog.LoadFile(opts.fromFile, catalog.WithOrder(packing.Order))
		if loadErr != nil {
			return loadErr
		}
		src = mem
	} else {
		db, dbErr := database.NewPostgresConnection(ctx, cfg.Database)
		if dbErr != nil {
			return fmt.Errorf("connect to database: %w", dbErr)
		}
		defer db.Close()
		src = catalog.NewPostgres(db, estimate.SettingsFromConfig(cfg.JobGen), packing.Metric)
	}

	return Plan(ctx, out, cfg, packing, src, now)
}

// Plan packs every definition of src due at now and renders the jobs to out.
func Plan(
	ctx context.Context,
	out io.Writer,
	cfg *config.Config,
	packing *bootstrap.Packing,
	src Catalog,
	now time.Time,
) error {
	defs, err := src.ReadyDefinitions(ctx, now)
	if err != nil {
		return fmt.Errorf("read ready definitions: %w", err)
	}
	if len(defs) == 0 {
		fmt.Fprintln(out, "No harvest definitions are due.")
		return nil
	}

	generator := packing.NewGenerator(cfg.JobGen, src, lifecycle.NewMemoryStore(), logger.NewNop(), nil)

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Job", "Harvest", "Channel", "Configs", "Expected Bytes", "Expected Objects", "Members"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})

	var total, skipped int
	for i := range defs {
		def := &defs[i]
		stats, genErr := generator.Generate(ctx, def, func(_ context.Context, job *domain.Job) error {
			t.AppendRow(table.Row{
				job.ID,
				def.Name,
				job.Channel,
				len(job.Configs),
				job.ExpectedBytes,
				job.ExpectedObjects,
				members(job.Configs),
			})
			return nil
		})
		if genErr != nil {
			return fmt.Errorf("generate jobs for %s: %w", def.Name, genErr)
		}
		total += stats.Jobs
		skipped += stats.Skipped
	}

	t.AppendFooter(table.Row{"", "", "Total", total, "", "", fmt.Sprintf("%d skipped", skipped)})
	t.Render()
	return nil
}

func members(keys []domain.ConfigKey) string {
	names := make([]string, 0, maxListedConfigs+1)
	for i, k := range keys {
		if i == maxListedConfigs {
			names = append(names, fmt.Sprintf("+%d more", len(keys)-maxListedConfigs))
			break
		}
		names = append(names, k.String())
	}
	return strings.Join(names, ", ")
}
