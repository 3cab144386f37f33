package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/application/workflow"
	"github.com/garyjia/booking-approval/internal/domain/entity"
)

type printer struct {
	w      io.Writer
	asJSON bool
}

func newPrinter(w io.Writer, asJSON bool) printer {
	return printer{w: w, asJSON: asJSON}
}

func (p printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table writes tab separated rows aligned into columns
func (p printer) table(header string, rows []string) error {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	for _, r := range rows {
		fmt.Fprintln(tw, r)
	}
	return tw.Flush()
}

func listActive(ctx context.Context, repo port.WorkflowRepository, p printer) error {
	active, err := repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active workflows: %w", err)
	}
	if p.asJSON {
		if active == nil {
			active = []*entity.Workflow{}
		}
		return p.json(active)
	}

	rows := make([]string, 0, len(active))
	for _, wf := range active {
		rows = append(rows, fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s",
			wf.WorkflowID, wf.Company, wf.Stage, wf.Status,
			orDash(wf.Data.Client), wf.UpdatedAt.Format(time.RFC3339)))
	}
	return p.table("WORKFLOW\tCOMPANY\tSTAGE\tSTATUS\tCLIENT\tUPDATED", rows)
}

func showWorkflow(ctx context.Context, repo port.WorkflowRepository, id string, p printer) error {
	wf, err := repo.Get(ctx, id)
	if err != nil {
		return notFound(err, "workflow", id)
	}
	if p.asJSON {
		return p.json(wf)
	}

	rows := []string{
		"Workflow:\t" + wf.WorkflowID,
		"Company:\t" + wf.Company,
		"Submitter:\t" + wf.SubmitterID,
		fmt.Sprintf("State:\t%s / %s", wf.Stage, wf.Status),
		fmt.Sprintf("Version:\t%d", wf.Version),
		"BO ref:\t" + orDash(wf.BORef),
		fmt.Sprintf("Saved:\t%t", wf.SavedToDB),
		"Revision of:\t" + orDash(wf.RevisionOf),
		"Original:\t" + orDash(wf.Original.Path),
		"Last action:\t" + orDash(wf.LastTrigger),
	}
	if err := p.table("FIELD\tVALUE", rows); err != nil {
		return err
	}
	_, err = fmt.Fprintf(p.w, "\n%s\n", workflow.FormatData(wf.Data))
	return err
}

func showHistory(ctx context.Context, repo port.HistoryRepository, id string, p printer) error {
	entries, err := repo.ListByWorkflow(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	if p.asJSON {
		if entries == nil {
			entries = []*entity.WorkflowHistory{}
		}
		return p.json(entries)
	}

	rows := make([]string, 0, len(entries))
	for _, h := range entries {
		rows = append(rows, fmt.Sprintf("%s\t%s\t%s\t%s:%s\t%s:%s",
			h.Timestamp.Format(time.RFC3339), h.ActionType, orDash(h.ActorID),
			h.PreviousStage, h.PreviousStatus, h.NewStage, h.NewStatus))
	}
	return p.table("TIME\tACTION\tACTOR\tFROM\tTO", rows)
}

func showRecord(ctx context.Context, repo port.RecordStore, boRef string, p printer) error {
	rec, err := repo.Get(ctx, boRef)
	if err != nil {
		return notFound(err, "record", boRef)
	}
	if p.asJSON {
		return p.json(rec)
	}

	rows := []string{
		"BO ref:\t" + rec.BORef,
		"Workflow:\t" + rec.WorkflowID,
		"Company:\t" + rec.Company,
		"Approved by:\t" + orDash(rec.ApprovedBy),
		"Finalized:\t" + rec.FinalizedAt.Format(time.RFC3339),
		"Revision of:\t" + orDash(rec.RevisionOf),
		"Gross:\t" + workflow.FormatAmount(rec.Data.Currency, rec.Data.Gross),
	}
	return p.table("FIELD\tVALUE", rows)
}

func notFound(err error, kind, key string) error {
	if errors.Is(err, port.ErrNotFound) {
		return fmt.Errorf("%s %q not found", kind, key)
	}
	return fmt.Errorf("failed to load %s %q: %w", kind, key, err)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
