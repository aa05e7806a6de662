package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"kycrisk/database"
	"kycrisk/pipeline"
	"kycrisk/survey"
)

var (
	green  = color.New(color.FgGreen, color.Bold)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
)

func renderStages(w io.Writer, stages []pipeline.StageResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("Stage", "Rows", "Duration", "Status", "Artifact")
	for _, s := range stages {
		status := "done"
		if s.Skipped {
			status = "cached"
		}
		if err := table.Append([]string{
			s.Stage,
			strconv.Itoa(s.Rows),
			s.Duration.Round(time.Millisecond).String(),
			status,
			s.Artifact,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderTiers(w io.Writer, counts map[survey.RiskCategory]int) error {
	table := tablewriter.NewWriter(w)
	table.Header("Risk category", "Rows")
	for _, tier := range survey.RiskCategories {
		if err := table.Append([]string{string(tier), strconv.Itoa(counts[tier])}); err != nil {
			return err
		}
	}
	if n := counts[survey.RiskUnknown]; n > 0 {
		if err := table.Append([]string{string(survey.RiskUnknown), strconv.Itoa(n)}); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderWatchlist(w io.Writer, clients []survey.ScoredRecord) error {
	if len(clients) == 0 {
		green.Fprintln(w, "no high-risk client")
		return nil
	}
	table := tablewriter.NewWriter(w)
	table.Header("SURVEY_ID", "Sector", "Score", "Signals")
	for _, c := range clients {
		if err := table.Append([]string{
			c.SurveyID.Str(),
			c.Sector.Str(),
			strconv.Itoa(c.RiskScore),
			strings.Join(c.Signals, ", "),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderSummary(w io.Writer, summary pipeline.RunSummary) error {
	if summary.RunID != "" {
		fmt.Fprintf(w, "run %s\n", summary.RunID)
	}
	if err := renderStages(w, summary.Stages); err != nil {
		return err
	}
	if err := renderTiers(w, summary.Tiers); err != nil {
		return err
	}
	warnInconsistent(summary.Inconsistent)

	c := green
	if summary.Watchlist > 0 {
		c = red
	}
	c.Fprintf(w, "%d high-risk client(s) on the watchlist\n", summary.Watchlist)
	return nil
}

func renderExplain(w io.Writer, rows []survey.ScoredRecord) error {
	for i, r := range rows {
		if len(rows) > 1 {
			fmt.Fprintf(w, "row %d of %d\n", i+1, len(rows))
		}
		c := green
		switch r.RiskCategory {
		case survey.RiskHigh:
			c = red
		case survey.RiskMedium:
			c = yellow
		}
		c.Fprintf(w, "%s: score %d, %s\n", r.SurveyID.Str(), r.RiskScore, r.RiskCategory)

		table := tablewriter.NewWriter(w)
		table.Header("Indicator", "Value")
		fields := [][]string{
			{survey.ColSector, r.Sector.Str()},
			{survey.ColRegionRisk, r.RegionRisk},
			{survey.ColRefusal, r.Refusal},
			{survey.ColTermination, r.Termination},
			{survey.ColIdentificationCompliance, string(r.IdentificationCompliance)},
			{survey.ColArchivingCompliance, r.ArchivingCompliance},
			{survey.ColPaymentMethod, r.PaymentMethod.Str()},
			{survey.ColRevenueKind, r.RevenueKind.Str()},
			{survey.ColTransactions, survey.FormatNumber(r.Transactions).Str()},
			{"SIGNALS", strings.Join(r.Signals, ", ")},
		}
		for _, f := range fields {
			if err := table.Append(f); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}
	return nil
}

func renderRuns(w io.Writer, runs []database.Run) error {
	table := tablewriter.NewWriter(w)
	table.Header("Run", "Started", "Status", "Failed stage", "Scored", "High risk")
	for _, r := range runs {
		if err := table.Append([]string{
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			string(r.Status),
			r.FailedStage,
			strconv.Itoa(r.ScoredRows),
			strconv.Itoa(r.HighRiskClients),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func warnInconsistent(ids []string) {
	if len(ids) == 0 {
		return
	}
	yellow.Fprintf(os.Stderr, "warning: %d client(s) have rows with different scores: %s\n",
		len(ids), strings.Join(ids, ", "))
}
