package client

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// NewQueueCommand builds the `queue` command group.
func NewQueueCommand(baseURL BaseURLFunc) *cobra.Command {
	queueCmd := &cobra.Command{Use: "queue", Short: "Queue operations"}

	joinCmd := &cobra.Command{
		Use:   "join",
		Short: "Add a customer to the waiting queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			location, _ := cmd.Flags().GetString("location")
			customer, _ := cmd.Flags().GetString("customer")
			motorcycle, _ := cmd.Flags().GetString("motorcycle")
			services, _ := cmd.Flags().GetStringSlice("service")
			priority, _ := cmd.Flags().GetString("priority")
			requestID, _ := cmd.Flags().GetString("request-id")
			return postJSON(baseURL(), "/v1/queue/join", map[string]any{
				"locationId":    location,
				"customerRef":   customer,
				"motorcycleRef": motorcycle,
				"serviceRefs":   services,
				"priority":      priority,
				"requestId":     requestID,
			})
		},
	}
	joinCmd.Flags().String("location", "", "Location id (required)")
	joinCmd.Flags().String("customer", "", "Customer reference (required)")
	joinCmd.Flags().String("motorcycle", "", "Motorcycle reference")
	joinCmd.Flags().StringSlice("service", nil, "Requested service reference (repeatable)")
	joinCmd.Flags().String("priority", "", "normal|urgent")
	joinCmd.Flags().String("request-id", "", "Idempotency key; retries with the same key return the original entry")
	_ = joinCmd.MarkFlagRequired("location")
	_ = joinCmd.MarkFlagRequired("customer")
	queueCmd.AddCommand(joinCmd)

	callNextCmd := &cobra.Command{
		Use:   "call-next",
		Short: "Call the next waiting customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			location, _ := cmd.Flags().GetString("location")
			return postJSON(baseURL(), "/v1/queue/call-next", map[string]any{"locationId": location})
		},
	}
	callNextCmd.Flags().String("location", "", "Location id (required)")
	_ = callNextCmd.MarkFlagRequired("location")
	queueCmd.AddCommand(callNextCmd)

	for _, op := range []struct{ use, short, path string }{
		{"start", "Move a called entry into service", "/v1/queue/start"},
		{"complete", "Complete an in-service entry", "/v1/queue/complete"},
	} {
		op := op
		c := &cobra.Command{
			Use:   op.use,
			Short: op.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				location, _ := cmd.Flags().GetString("location")
				entry, _ := cmd.Flags().GetString("entry")
				return postJSON(baseURL(), op.path, map[string]any{
					"locationId": location,
					"entryId":    entry,
				})
			},
		}
		c.Flags().String("location", "", "Location id (required)")
		c.Flags().String("entry", "", "Entry id (required)")
		_ = c.MarkFlagRequired("location")
		_ = c.MarkFlagRequired("entry")
		queueCmd.AddCommand(c)
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a waiting or called entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			location, _ := cmd.Flags().GetString("location")
			entry, _ := cmd.Flags().GetString("entry")
			reason, _ := cmd.Flags().GetString("reason")
			return postJSON(baseURL(), "/v1/queue/cancel", map[string]any{
				"locationId": location,
				"entryId":    entry,
				"reason":     reason,
			})
		},
	}
	cancelCmd.Flags().String("location", "", "Location id (required)")
	cancelCmd.Flags().String("entry", "", "Entry id (required)")
	cancelCmd.Flags().String("reason", "", "Cancellation reason")
	_ = cancelCmd.MarkFlagRequired("location")
	_ = cancelCmd.MarkFlagRequired("entry")
	queueCmd.AddCommand(cancelCmd)

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Show the current waiting and called lists",
		RunE: func(cmd *cobra.Command, args []string) error {
			location, _ := cmd.Flags().GetString("location")
			return getJSON(baseURL(), "/v1/queue/snapshot", url.Values{"location": {location}})
		},
	}
	snapshotCmd.Flags().String("location", "", "Location id (required)")
	_ = snapshotCmd.MarkFlagRequired("location")
	queueCmd.AddCommand(snapshotCmd)

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent queue events",
		RunE: func(cmd *cobra.Command, args []string) error {
			location, _ := cmd.Flags().GetString("location")
			limit, _ := cmd.Flags().GetInt("limit")
			q := url.Values{"location": {location}}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			return getJSON(baseURL(), "/v1/queue/events", q)
		},
	}
	eventsCmd.Flags().String("location", "", "Location id (required)")
	eventsCmd.Flags().Int("limit", 50, "Max events to return")
	_ = eventsCmd.MarkFlagRequired("location")
	queueCmd.AddCommand(eventsCmd)

	expireCmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire waiting entries older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			location, _ := cmd.Flags().GetString("location")
			maxAgeMs, _ := cmd.Flags().GetInt64("max-age-ms")
			pageSize, _ := cmd.Flags().GetInt("page-size")
			return postJSON(baseURL(), "/v1/queue/expire", map[string]any{
				"locationId": location,
				"maxAgeMs":   maxAgeMs,
				"pageSize":   pageSize,
			})
		},
	}
	expireCmd.Flags().String("location", "", "Location id (required)")
	expireCmd.Flags().Int64("max-age-ms", 0, "Waiting age cutoff in ms (required)")
	expireCmd.Flags().Int("page-size", 0, "Max entries per pass (0 = server default)")
	_ = expireCmd.MarkFlagRequired("location")
	_ = expireCmd.MarkFlagRequired("max-age-ms")
	queueCmd.AddCommand(expireCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live queue updates (SSE)",
		RunE: func(cmd *cobra.Command, args []string) error {
			location, _ := cmd.Flags().GetString("location")
			mode, _ := cmd.Flags().GetString("mode")
			filter, _ := cmd.Flags().GetString("filter")
			q := url.Values{"location": {location}}
			if mode != "" {
				q.Set("mode", mode)
			}
			if filter != "" {
				q.Set("filter", filter)
			}
			return streamSSE(baseURL(), "/v1/queue/subscribe", q)
		},
	}
	watchCmd.Flags().String("location", "", "Location id (required)")
	watchCmd.Flags().String("mode", "", "poll|push (empty = server default)")
	watchCmd.Flags().String("filter", "", "CEL filter over push events, e.g. type == 'entry.called'")
	_ = watchCmd.MarkFlagRequired("location")
	queueCmd.AddCommand(watchCmd)

	return queueCmd
}
