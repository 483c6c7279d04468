package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/delivery"
)

func runDeadLettersList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if listLimit > 0 {
		q.Set("limit", strconv.Itoa(listLimit))
	}
	var body struct {
		DeadLetters []domain.DeadLetter `json:"dead_letters"`
		Count       int                 `json:"count"`
	}
	if err := newAdminClient().do(cmd.Context(), http.MethodGet, "/admin/dead-letters", q, &body); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), body)
	}
	if len(body.DeadLetters) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No unresolved dead letters.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DELIVERY\tTYPE\tATTEMPTS\tCREATED\tTARGET\tREASON")
	for _, dl := range body.DeadLetters {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			dl.DeliveryID, dl.Message.Payload.Header, dl.Attempts,
			dl.CreatedAt.Format(time.RFC3339), dl.TargetURL, dl.Reason)
	}
	return tw.Flush()
}

func runDeadLettersShow(cmd *cobra.Command, args []string) error {
	dl, err := getDeadLetter(cmd, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), dl)
}

func runDeadLettersReplay(cmd *cobra.Command, args []string) error {
	dl, err := getDeadLetter(cmd, args[0])
	if err != nil {
		return err
	}
	if dl.ResolvedAt != nil {
		return fmt.Errorf("dead letter %s was already resolved at %s", dl.DeliveryID, dl.ResolvedAt.Format(time.RFC3339))
	}

	sender := delivery.NewWebhookSender(delivery.WebhookSenderConfig{Timeout: replayHook})
	res := sender.Send(cmd.Context(), &dl.Message, dl.Attempts+1)
	if res.Err != nil {
		return fmt.Errorf("replay %s to %s failed: %w", dl.DeliveryID, dl.TargetURL, res.Err)
	}

	if err := newAdminClient().do(cmd.Context(), http.MethodDelete, "/admin/dead-letters/"+url.PathEscape(dl.DeliveryID), nil, nil); err != nil {
		return fmt.Errorf("replayed %s but could not resolve it: %w", dl.DeliveryID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "replayed %s to %s: HTTP %d in %s; resolved\n",
		dl.DeliveryID, dl.TargetURL, res.StatusCode, res.Latency.Round(time.Millisecond))
	return nil
}

func runDeadLettersResolve(cmd *cobra.Command, args []string) error {
	if err := newAdminClient().do(cmd.Context(), http.MethodDelete, "/admin/dead-letters/"+url.PathEscape(args[0]), nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "resolved %s\n", args[0])
	return nil
}

func getDeadLetter(cmd *cobra.Command, id string) (*domain.DeadLetter, error) {
	var dl domain.DeadLetter
	if err := newAdminClient().do(cmd.Context(), http.MethodGet, "/admin/dead-letters/"+url.PathEscape(id), nil, &dl); err != nil {
		return nil, err
	}
	return &dl, nil
}
