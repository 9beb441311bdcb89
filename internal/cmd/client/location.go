package client

import (
	"github.com/spf13/cobra"
)

// NewLocationCommand builds the `location` command group.
func NewLocationCommand(baseURL BaseURLFunc) *cobra.Command {
	locCmd := &cobra.Command{Use: "location", Short: "Location operations"}

	ensureCmd := &cobra.Command{
		Use:   "ensure",
		Short: "Register a location (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			name, _ := cmd.Flags().GetString("name")
			maxSize, _ := cmd.Flags().GetInt("max-queue-size")
			maxAgeMs, _ := cmd.Flags().GetInt64("entry-max-age-ms")
			return postJSON(baseURL(), "/v1/locations/ensure", map[string]any{
				"id":            id,
				"name":          name,
				"maxQueueSize":  maxSize,
				"entryMaxAgeMs": maxAgeMs,
			})
		},
	}
	ensureCmd.Flags().String("id", "", "Location id (required)")
	ensureCmd.Flags().String("name", "", "Display name")
	ensureCmd.Flags().Int("max-queue-size", 0, "Waiting set cap (0 = unbounded)")
	ensureCmd.Flags().Int64("entry-max-age-ms", 0, "Waiting age before sweep expiry (0 = server default)")
	_ = ensureCmd.MarkFlagRequired("id")
	locCmd.AddCommand(ensureCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(baseURL(), "/v1/locations", nil)
		},
	}
	locCmd.AddCommand(listCmd)

	return locCmd
}
