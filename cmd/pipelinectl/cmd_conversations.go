package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/api/admin"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
)

func runConversationsList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if listState != "" {
		q.Set("state", strings.ToUpper(listState))
	}
	if listLimit > 0 {
		q.Set("limit", strconv.Itoa(listLimit))
	}
	if listSince != "" {
		q.Set("since", listSince)
	}

	var body struct {
		Conversations []admin.ConversationSummary `json:"conversations"`
		Count         int                         `json:"count"`
	}
	if err := newAdminClient().do(cmd.Context(), http.MethodGet, "/admin/conversations", q, &body); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), body)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONVERSATION\tSTATE\tTYPE\tATTEMPTS\tSOURCE\tRECEIVED")
	for _, c := range body.Conversations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s/%s\t%s\n",
			c.ConversationID, c.State, dash(string(c.Classification)), c.Attempts,
			c.SourceSystem, c.SourceProcess, c.ReceivedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runConversationsShow(cmd *cobra.Command, args []string) error {
	var rec domain.ConversationRecord
	if err := newAdminClient().do(cmd.Context(), http.MethodGet, "/admin/conversations/"+url.PathEscape(args[0]), nil, &rec); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), rec)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Conversation:   %s\n", rec.ID)
	fmt.Fprintf(out, "State:          %s\n", rec.State)
	fmt.Fprintf(out, "Source:         %s / %s\n", rec.SourceSystem, rec.SourceProcess)
	fmt.Fprintf(out, "Received:       %s\n", rec.ReceivedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Query:          %s\n", rec.QueryText)
	if rec.Classification != "" {
		conf := "high"
		if rec.LowConfidence {
			conf = "low"
		}
		fmt.Fprintf(out, "Classification: %s (%s, %s confidence)\n", rec.Classification, rec.ClassificationRule, conf)
		fmt.Fprintf(out, "Target:         %s\n", rec.TargetURL)
	}
	if rec.FailureReason != "" {
		fmt.Fprintf(out, "Failure:        %s\n", rec.FailureReason)
	}
	if rec.ExportRef != "" {
		fmt.Fprintf(out, "Export:         %s\n", rec.ExportRef)
	}

	if len(rec.DeliveryAttempts) > 0 {
		fmt.Fprintln(out, "\nAttempts:")
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  #\tSENT\tSTATUS\tLATENCY\tNEXT DELAY\tERROR")
		for _, a := range rec.DeliveryAttempts {
			status := "-"
			if a.HTTPStatus != nil {
				status = strconv.Itoa(*a.HTTPStatus)
			}
			errText := "-"
			if a.Error != nil {
				errText = *a.Error
			}
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%dms\t%dms\t%s\n",
				a.AttemptNumber, a.SentAt.Format(time.RFC3339), status, a.LatencyMs, a.RetryDelayMs, errText)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func runConversationsTimeline(cmd *cobra.Command, args []string) error {
	var body struct {
		ConversationID string              `json:"conversation_id"`
		Transitions    []domain.Transition `json:"transitions"`
	}
	if err := newAdminClient().do(cmd.Context(), http.MethodGet, "/admin/conversations/"+url.PathEscape(args[0])+"/timeline", nil, &body); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), body)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tFROM\tTO\tREASON")
	for _, tr := range body.Transitions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			tr.At.Format(time.RFC3339Nano), dash(string(tr.From)), tr.To, dash(tr.Reason))
	}
	return tw.Flush()
}

func runConversationsExport(cmd *cobra.Command, args []string) error {
	var body struct {
		ConversationID string `json:"conversation_id"`
		ExportRef      string `json:"export_ref"`
	}
	if err := newAdminClient().do(cmd.Context(), http.MethodPost, "/admin/conversations/"+url.PathEscape(args[0])+"/export", nil, &body); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), body)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", body.ConversationID, body.ExportRef)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
