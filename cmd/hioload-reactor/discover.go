// File: cmd/hioload-reactor/discover.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/momentics/hioload-net/internal/discovery"
	"github.com/spf13/cobra"
)

var (
	discoverService string
	discoverTimeout time.Duration
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List instances advertised over mDNS",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), discoverTimeout)
		defer cancel()
		peers, err := discovery.Browse(ctx, discoverService)
		if err != nil {
			return err
		}
		if len(peers) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no instances found")
			return nil
		}
		for _, p := range peers {
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-24s ws=%s\n", p.Instance, p.Spec(), p.Meta["ws"])
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverService, "service", discovery.DefaultService, "mDNS service type")
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", discovery.DefaultBrowseTimeout, "how long to listen for answers")
}
