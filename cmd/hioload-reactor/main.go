// Hioload-reactor runs the single-threaded connection reactor as an HTTP,
// WebSocket and static file server, or as a TCP/TLS tunnel.
//
// Usage:
//
//	hioload-reactor serve [flags]
//	hioload-reactor tunnel --listen ssl://8443:server.pem --target tcp://10.0.0.5:8080
//	hioload-reactor discover
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	configPath string
	envFile    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "hioload-reactor",
	Short: "Single-threaded HTTP/WebSocket server and TLS tunnel",
	Long: `hioload-reactor multiplexes every connection on one goroutine.

Configuration comes from an optional YAML file, then HIOLOAD_* environment
variables (a .env file is loaded first when present), then flags.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error, off)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tunnelCmd)
	rootCmd.AddCommand(discoverCmd)
}
