package main

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"drivesync/interfaces/web/presenters"
)

// output renders presenter views as tables, or as JSON with --json.
type output struct {
	w    io.Writer
	json bool
}

func newOutput(w io.Writer) *output {
	return &output{w: w, json: jsonOut}
}

func (o *output) writeJSON(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o *output) table(headers []string, rows [][]string) {
	table := tablewriter.NewWriter(o.w)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk(rows)
	table.Render()
}

func (o *output) jobs(views []*presenters.JobStatusView) error {
	if o.json {
		return o.writeJSON(views)
	}
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		scope := v.TenantID
		if v.DriveID != "" {
			scope = v.TenantID + "/" + v.SiteID + "/" + v.DriveID
		}
		rows = append(rows, []string{
			v.ID,
			v.Type,
			scope,
			v.Status,
			v.Trigger,
			v.Duration,
			strconv.Itoa(v.Stats.ItemsUpserted),
			strconv.Itoa(v.Stats.ItemsDeleted),
			truncate(v.Error, 60),
		})
	}
	o.table([]string{"Job", "Type", "Scope", "Status", "Trigger", "Duration", "Upserted", "Deleted", "Error"}, rows)
	return nil
}

func (o *output) drives(view *presenters.DriveListView) error {
	if o.json {
		return o.writeJSON(view)
	}
	rows := make([][]string, 0, len(view.Drives))
	for _, d := range view.Drives {
		rows = append(rows, []string{
			d.SiteID,
			d.DriveID,
			d.Phase,
			yesNo(d.Running),
			yesNo(d.HasDeltaToken),
			d.Subscription.State,
			d.Subscription.ExpiresAt,
			d.UpdatedAt,
		})
	}
	o.table([]string{"Site", "Drive", "Phase", "Running", "Delta token", "Subscription", "Expires", "Updated"}, rows)
	return nil
}

func (o *output) tenants(views []*presenters.TenantView) error {
	if o.json {
		return o.writeJSON(views)
	}
	rows := make([][]string, 0, len(views))
	for _, t := range views {
		rows = append(rows, []string{t.ID, t.Status, truncate(t.LastError, 60), t.UpdatedAt})
	}
	o.table([]string{"Tenant", "Status", "Last error", "Updated"}, rows)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
