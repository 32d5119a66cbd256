// File: cmd/hioload-reactor/serve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/momentics/hioload-net/httpd"
	"github.com/momentics/hioload-net/internal/discovery"
	"github.com/momentics/hioload-net/internal/transport"
	"github.com/momentics/hioload-net/protocol"
	"github.com/momentics/hioload-net/reactor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveListen    []string
	serveRoot      string
	serveBroadcast time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve HTTP, static files and a WebSocket echo endpoint",
	Long: `Serve static files from the document root, a JSON status endpoint at
/api/status and a WebSocket echo endpoint (default /ws) on every listen
address. Listen addresses use the form [tcp|udp|ssl://][host:]port[:cert[:ca]].`,
	Example: `  # Plain HTTP on port 8000 serving the current directory
  hioload-reactor serve

  # HTTPS with a combined certificate/key PEM, plus HTTP on 8080
  hioload-reactor serve --listen ssl://8443:server.pem --listen 8080 --root ./public

  # Push the current time to every WebSocket client once per second
  hioload-reactor serve --broadcast 1s`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringArrayVarP(&serveListen, "listen", "l", nil, "listen address (repeatable, overrides config)")
	serveCmd.Flags().StringVar(&serveRoot, "root", "", "document root (overrides config)")
	serveCmd.Flags().DurationVar(&serveBroadcast, "broadcast", 0, "interval for pushing a timestamp to WebSocket clients (0 disables)")
}

func newHTTPServer(rt *app) (*httpd.Server, error) {
	hc := rt.cfg.HTTP
	rewrites, err := httpd.ParseRewrites(hc.Rewrites)
	if err != nil {
		return nil, err
	}
	srv := httpd.New(httpd.Options{
		DocumentRoot:     hc.DocumentRoot,
		IndexFiles:       hc.IndexFiles,
		Rewrites:         rewrites,
		MaxHeaderSize:    hc.MaxHeaderSize,
		MaxBodySize:      hc.MaxBodySize,
		StrictTerminator: hc.StrictTerminator,
		ServerName:       "hioload/" + Version,
	})
	srv.Handle("/api/status", func(x *httpd.Exchange) {
		body, err := json.Marshal(rt.probes.DumpState())
		if err != nil {
			x.ReplyError(http.StatusInternalServerError)
			return
		}
		x.SetHeader("Content-Type", "application/json")
		x.Reply(http.StatusOK, body)
	})
	if hc.WebSocketPath != "" {
		srv.HandleWebSocket(hc.WebSocketPath, httpd.WebSocketHandlers{
			Message: func(ws *httpd.WebSocket, f protocol.Frame) {
				_ = ws.SendFrame(f.Opcode, f.Payload)
			},
		})
	}
	return srv, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	if len(serveListen) > 0 {
		rt.cfg.Listen = serveListen
	}
	if serveRoot != "" {
		rt.cfg.HTTP.DocumentRoot = serveRoot
	}
	srv, err := newHTTPServer(rt)
	if err != nil {
		return err
	}

	var firstTCP int
	for _, spec := range rt.cfg.Listen {
		l, err := rt.m.Listen(spec, srv.Protocol)
		if err != nil {
			rt.m.Close()
			return fmt.Errorf("listen %s: %w", spec, err)
		}
		if a, _ := transport.ParseAddress(spec); firstTCP == 0 && a.Proto == transport.ProtoTCP {
			firstTCP = int(l.LocalAddr().Port())
		}
	}

	if rt.cfg.MDNS.Enabled && firstTCP != 0 {
		ad, err := discovery.Advertise(discovery.Advertisement{
			Instance: rt.cfg.MDNS.Instance,
			Service:  rt.cfg.MDNS.Service,
			Port:     firstTCP,
			Meta:     map[string]string{"ws": rt.cfg.HTTP.WebSocketPath, "version": Version},
		})
		if err != nil {
			rt.log.Warn("mdns advertisement failed", zap.Error(err))
		} else {
			defer ad.Shutdown()
			rt.log.Info("mdns advertised", zap.String("instance", rt.cfg.MDNS.Instance), zap.Int("port", firstTCP))
		}
	}

	if serveBroadcast > 0 {
		rt.goAlso(func(ctx context.Context) error { return broadcastLoop(ctx, rt.m, serveBroadcast) })
	}
	return rt.run(cmd.Context())
}

// broadcastLoop pushes a timestamp to every WebSocket client from outside
// the reactor goroutine.
func broadcastLoop(ctx context.Context, m *reactor.Manager, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if err := m.Broadcast([]byte(now.UTC().Format(time.RFC3339))); err != nil {
				return nil
			}
		}
	}
}
