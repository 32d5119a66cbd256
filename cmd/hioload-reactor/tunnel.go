// File: cmd/hioload-reactor/tunnel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"

	"github.com/momentics/hioload-net/relay"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	tunnelListen string
	tunnelTarget string
)

var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Relay connections to a fixed target",
	Long: `Accept connections on --listen and relay each one byte for byte to a new
connection to --target. An ssl:// listen address terminates TLS; an ssl://
target originates it. If the target cannot be reached the accepted
connection is closed without a response.`,
	Example: `  # Terminate TLS in front of a plain backend
  hioload-reactor tunnel --listen ssl://8443:server.pem --target tcp://127.0.0.1:8080

  # Wrap a plain local port in TLS towards a remote server
  hioload-reactor tunnel --listen 127.0.0.1:9000 --target ssl://example.com:443`,
	RunE: runTunnel,
}

func init() {
	tunnelCmd.Flags().StringVar(&tunnelListen, "listen", "", "front listen address (overrides config)")
	tunnelCmd.Flags().StringVar(&tunnelTarget, "target", "", "back target address (overrides config)")
}

func runTunnel(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	if tunnelListen != "" {
		rt.cfg.Tunnel.Listen = tunnelListen
	}
	if tunnelTarget != "" {
		rt.cfg.Tunnel.Target = tunnelTarget
	}
	if rt.cfg.Tunnel.Listen == "" || rt.cfg.Tunnel.Target == "" {
		rt.m.Close()
		return fmt.Errorf("tunnel needs both a listen address and a target")
	}
	tun, err := relay.New(rt.cfg.Tunnel.Target)
	if err != nil {
		rt.m.Close()
		return fmt.Errorf("target %s: %w", rt.cfg.Tunnel.Target, err)
	}
	if _, err := rt.m.Listen(rt.cfg.Tunnel.Listen, tun.Protocol); err != nil {
		rt.m.Close()
		return fmt.Errorf("listen %s: %w", rt.cfg.Tunnel.Listen, err)
	}
	rt.cfg.Listen = []string{rt.cfg.Tunnel.Listen}
	rt.log.Info("tunnel ready", zap.String("listen", rt.cfg.Tunnel.Listen), zap.String("target", tun.Target.String()))
	return rt.run(cmd.Context())
}
