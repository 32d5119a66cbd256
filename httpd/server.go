// File: httpd/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server options, handler registration and routing.

package httpd

import (
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/protocol"
	"github.com/momentics/hioload-net/reactor"
)

// Defaults applied by New to zero option fields.
const (
	DefaultMaxHeaderSize = 8 << 10
	DefaultMaxBodySize   = 1 << 20
)

// DefaultIndexFiles are tried, in order, for directory requests.
var DefaultIndexFiles = []string{"index.html", "index.htm"}

// Rewrite serves every URI under Prefix from FS instead of the document
// root. The part of the path after Prefix is looked up in FS.
type Rewrite struct {
	Prefix string
	FS     fs.FS
}

// Options configure a Server.
type Options struct {
	// FS is the document root. When nil, DocumentRoot is opened with
	// os.DirFS; when both are empty static files are disabled.
	FS           fs.FS
	DocumentRoot string
	IndexFiles   []string
	Rewrites     []Rewrite

	MaxHeaderSize    int
	MaxBodySize      int
	MaxFramePayload  int
	StrictTerminator bool
	ServerName       string
}

// ParseRewrites turns "prefix=dir" entries into rewrites backed by the
// local filesystem.
func ParseRewrites(specs []string) ([]Rewrite, error) {
	out := make([]Rewrite, 0, len(specs))
	for _, s := range specs {
		prefix, dir, ok := strings.Cut(s, "=")
		if !ok || !strings.HasPrefix(prefix, "/") || dir == "" {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "bad rewrite rule").WithContext("rule", s)
		}
		out = append(out, Rewrite{Prefix: NormalizePath(prefix), FS: os.DirFS(dir)})
	}
	return out, nil
}

// HandlerFunc serves one request. It runs on the reactor goroutine and must
// reply before returning.
type HandlerFunc func(x *Exchange)

// WebSocketHandlers are the callbacks of an upgraded connection. All fields
// are optional.
type WebSocketHandlers struct {
	Open      func(ws *WebSocket, x *Exchange)
	Message   func(ws *WebSocket, f protocol.Frame)
	Close     func(ws *WebSocket)
	Broadcast func(ws *WebSocket, payload []byte) // default sends payload as text
}

type route struct {
	pattern string
	handler HandlerFunc
	ws      *WebSocketHandlers
}

// Server holds routes and options shared by every HTTP connection of a
// listener.
type Server struct {
	opts   Options
	fsys   fs.FS
	routes []route
}

// New applies defaults to opts and returns a server.
func New(opts Options) *Server {
	if opts.MaxHeaderSize <= 0 {
		opts.MaxHeaderSize = DefaultMaxHeaderSize
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	if opts.MaxFramePayload <= 0 {
		opts.MaxFramePayload = protocol.DefaultMaxPayload
	}
	if opts.IndexFiles == nil {
		opts.IndexFiles = DefaultIndexFiles
	}
	s := &Server{opts: opts, fsys: opts.FS}
	if s.fsys == nil && opts.DocumentRoot != "" {
		s.fsys = os.DirFS(opts.DocumentRoot)
	}
	return s
}

// Options returns the effective options.
func (s *Server) Options() Options { return s.opts }

// Handle registers h for pattern. A pattern matches the identical path and
// every path below it; the longest matching pattern wins.
func (s *Server) Handle(pattern string, h HandlerFunc) {
	s.add(route{pattern: NormalizePath(pattern), handler: h})
}

// HandleWebSocket registers upgrade handlers for pattern.
func (s *Server) HandleWebSocket(pattern string, h WebSocketHandlers) {
	s.add(route{pattern: NormalizePath(pattern), ws: &h})
}

func (s *Server) add(r route) {
	r.pattern = strings.TrimSuffix(r.pattern, "/")
	for i := range s.routes {
		if s.routes[i].pattern == r.pattern && (s.routes[i].ws == nil) == (r.ws == nil) {
			s.routes[i] = r
			return
		}
	}
	s.routes = append(s.routes, r)
	sort.SliceStable(s.routes, func(i, j int) bool { return len(s.routes[i].pattern) > len(s.routes[j].pattern) })
}

// matchPrefix reports whether path is prefix or lies below it, and returns
// the remainder.
func matchPrefix(prefix, path string) (string, bool) {
	prefix = strings.TrimSuffix(prefix, "/")
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := path[len(prefix):]
	if rest != "" && rest[0] != '/' {
		return "", false
	}
	return rest, true
}

// match finds the route for path. websocket selects upgrade routes.
func (s *Server) match(path string, websocket bool) (*route, string) {
	for i := range s.routes {
		r := &s.routes[i]
		if (r.ws != nil) != websocket {
			continue
		}
		if rest, ok := matchPrefix(r.pattern, path); ok {
			return r, rest
		}
	}
	return nil, ""
}

// RecvLimit is the receive queue a connection needs to hold the largest
// request head plus the larger of a full body and a full frame.
func (s *Server) RecvLimit() int {
	frame := s.opts.MaxFramePayload + protocol.HeaderLen(s.opts.MaxFramePayload, true)
	if frame > s.opts.MaxBodySize {
		return s.opts.MaxHeaderSize + frame
	}
	return s.opts.MaxHeaderSize + s.opts.MaxBodySize
}

// Protocol is a reactor.Factory installing an HTTP session on each accepted
// connection. A reactor cap smaller than RecvLimit is raised; an unbounded
// one is left alone.
func (s *Server) Protocol(c *reactor.Conn) reactor.Protocol {
	if lim := c.RecvLimit(); lim > 0 && lim < s.RecvLimit() {
		c.SetRecvLimit(s.RecvLimit())
	}
	return &session{srv: s}
}
