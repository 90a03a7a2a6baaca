package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"moviequiz/pkg/config"
	"moviequiz/pkg/db/maintenance"
	"moviequiz/pkg/pipeline"
	"moviequiz/pkg/probe"
	"moviequiz/pkg/similarity"
	"moviequiz/pkg/wikidata"
)

func newInitConfigCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "init-config",
		Short:       "Write a default configuration file if none exists",
		Annotations: map[string]string{"skipApp": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.GenerateDefault(cc.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", cc.configPath)
			return nil
		},
	}
}

func newDiscoverCommand(cc *commandContext) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Page the sitelink-ranked movie list into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.runStages(cmd, pipeline.Options{
				Stages:        []pipeline.Stage{pipeline.StageDiscover},
				DiscoverCount: count,
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "Number of top-ranked movies to hold (default from config)")
	return cmd
}

func newDetailsCommand(cc *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "details",
		Short: "Fetch details for discovered movies that have none yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.runStages(cmd, pipeline.Options{
				Stages:      []pipeline.Stage{pipeline.StageDetails},
				DetailLimit: limit,
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum movies to fetch (0 fetches all pending)")
	return cmd
}

func newTranslateCommand(cc *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate pending alternative titles and score them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.runStages(cmd, pipeline.Options{
				Stages:         []pipeline.Stage{pipeline.StageTranslate},
				TranslateLimit: limit,
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum pending titles per run (default from config)")
	return cmd
}

func newRunCommand(cc *commandContext) *cobra.Command {
	var (
		opts       pipeline.Options
		skipChecks bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run discovery, details and translation in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !skipChecks {
				results := probe.Run(cmd.Context(), cc.app.probes())
				if err := probe.AnalyzeResults(slog.Default(), results); err != nil {
					renderProbes(cmd.OutOrStdout(), results)
					return err
				}
			}
			return cc.runStages(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.DiscoverCount, "count", 0, "Number of top-ranked movies to hold (default from config)")
	cmd.Flags().IntVar(&opts.DetailLimit, "detail-limit", 0, "Maximum movies to fetch details for (0 fetches all pending)")
	cmd.Flags().IntVar(&opts.TranslateLimit, "translate-limit", 0, "Maximum pending titles to translate (default from config)")
	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Skip the startup checks")
	return cmd
}

func newRescoreCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rescore",
		Short: "Recompute the difference ratio of every translated title",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := maintenance.Rescore(cmd.Context(), cc.app.store)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rescored %d titles, %d changed\n", res.Checked, res.Changed)
			return nil
		},
	}
}

func newStatusCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store counts and the last pipeline run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := cc.app.store.Stats(ctx, similarity.FairMin, similarity.FairMax)
			if err != nil {
				return err
			}
			lastRun := "never"
			if at, ok := cc.app.store.GetState(ctx, pipeline.StateLastRunAt); ok {
				id, _ := cc.app.store.GetState(ctx, pipeline.StateLastRunID)
				lastRun = at + " (" + id + ")"
			}
			rows := [][]string{
				{"Movies", strconv.Itoa(st.Movies)},
				{"Pending details", strconv.Itoa(st.PendingDetails)},
				{"Persons", strconv.Itoa(st.Persons)},
				{"Alternative titles", strconv.Itoa(st.Titles)},
				{"Pending translation", strconv.Itoa(st.PendingTitles)},
				{"Translated", strconv.Itoa(st.TranslatedTotal)},
				{fmt.Sprintf("Fair (%.2f-%.2f)", similarity.FairMin, similarity.FairMax), strconv.Itoa(st.TranslatedFair)},
				{"Last run", lastRun},
			}
			renderTable(cmd.OutOrStdout(), []string{"Item", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
			return nil
		},
	}
}

func newFetchCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <QID>...",
		Short: "Resolve movie details without storing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wc := cc.app.cfg.Wikidata
			f := wikidata.NewDetailFetcher(cc.app.wd, nil, wc.DetailPageSize, wc.PageInterval.Std(), 1, slog.Default())
			details, err := f.FetchDetails(cmd.Context(), args)
			if err != nil {
				return err
			}
			var rows [][]string
			for _, id := range args {
				m, ok := details[id]
				if !ok {
					rows = append(rows, []string{id, "(not found)", "", "", "", "", ""})
					continue
				}
				released := ""
				if m.ReleaseDate != nil {
					released = m.ReleaseDate.Format(time.DateOnly)
				}
				duration := ""
				if m.Duration > 0 {
					duration = m.Duration.String()
				}
				rows = append(rows, []string{m.ID, m.Title, released, duration, m.Country,
					strings.Join(m.DirectorIDs, ","), strings.Join(m.CastIDs, ",")})
			}
			renderTable(cmd.OutOrStdout(), []string{"ID", "Title", "Released", "Duration", "Country", "Directors", "Cast"}, rows, nil)
			renderRequests(cmd.OutOrStdout(), cc.app.tracker)
			return nil
		},
	}
}

func newCheckCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the startup checks against the store and upstream services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results := probe.Run(cmd.Context(), cc.app.probes())
			renderProbes(cmd.OutOrStdout(), results)
			return probe.AnalyzeResults(slog.Default(), results)
		},
	}
}

// runStages runs the pipeline and prints its report. The report is printed even
// when a fatal error aborted the run.
func (c *commandContext) runStages(cmd *cobra.Command, opts pipeline.Options) error {
	rep, err := c.app.pipeline().Run(cmd.Context(), opts)
	if rep != nil && len(rep.Stages) > 0 {
		renderReport(cmd.OutOrStdout(), rep)
		renderRequests(cmd.OutOrStdout(), c.app.tracker)
	}
	return err
}

func (a *app) probes() []probe.Probe {
	return []probe.Probe{
		probe.Database(a.db),
		probe.Wikidata(a.wd),
		probe.Translation(a.newProvider, a.cfg.Translation.Languages),
	}
}
