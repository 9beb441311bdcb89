package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the pitline client.
// It registers the location and queue command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "pitline",
		Short: "Pitline client commands",
	}
	root.AddCommand(NewLocationCommand(baseURL))
	root.AddCommand(NewQueueCommand(baseURL))
	return root
}
