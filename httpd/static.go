// File: httpd/static.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Static files: rewrites, index files, validators, byte ranges.

package httpd

import (
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"
)

// resolve maps a normalized path to a filesystem and a name valid for
// fs.Stat. The first matching rewrite wins.
func (s *Server) resolve(p string) (fs.FS, string) {
	fsys, rel := s.fsys, p
	for _, rw := range s.opts.Rewrites {
		if rest, ok := matchPrefix(rw.Prefix, p); ok {
			fsys, rel = rw.FS, rest
			break
		}
	}
	name := strings.Trim(rel, "/")
	if name == "" {
		name = "."
	}
	return fsys, name
}

func (s *Server) serveStatic(x *Exchange) {
	m := x.Method()
	if m != http.MethodGet && m != http.MethodHead {
		x.SetHeader("Allow", "GET, HEAD")
		x.ReplyError(http.StatusMethodNotAllowed)
		return
	}
	fsys, name := s.resolve(x.Path)
	if fsys == nil {
		x.ReplyError(http.StatusNotFound)
		return
	}
	fi, err := fs.Stat(fsys, name)
	if err != nil {
		x.ReplyError(http.StatusNotFound)
		return
	}
	if fi.IsDir() {
		if !strings.HasSuffix(x.Path, "/") {
			loc := x.Path + "/"
			if len(x.Request.Query) > 0 {
				loc += "?" + string(x.Request.Query)
			}
			x.Redirect(http.StatusMovedPermanently, loc)
			return
		}
		for _, idx := range s.opts.IndexFiles {
			cand := path.Join(name, idx)
			if ifi, err := fs.Stat(fsys, cand); err == nil && ifi.Mode().IsRegular() {
				s.serveFile(x, fsys, cand, ifi)
				return
			}
		}
		x.ReplyError(http.StatusForbidden)
		return
	}
	if !fi.Mode().IsRegular() {
		x.ReplyError(http.StatusForbidden)
		return
	}
	s.serveFile(x, fsys, name, fi)
}

// ETag derives the entity tag from modification time and size.
func ETag(fi fs.FileInfo) string {
	return fmt.Sprintf(`"%x.%x"`, fi.ModTime().Unix(), fi.Size())
}

func etagMatch(header, etag string) bool {
	for _, t := range strings.Split(header, ",") {
		t = strings.TrimSpace(t)
		if t == "*" || strings.TrimPrefix(t, "W/") == etag {
			return true
		}
	}
	return false
}

// notModified evaluates If-None-Match, falling back to If-Modified-Since.
func notModified(x *Exchange, etag string, mtime time.Time) bool {
	if inm := x.Header("If-None-Match"); inm != "" {
		return etagMatch(inm, etag)
	}
	if ims := x.Header("If-Modified-Since"); ims != "" {
		t, err := http.ParseTime(ims)
		return err == nil && !mtime.Truncate(time.Second).After(t)
	}
	return false
}

// ParseRange parses a single "bytes=" range against size. present is false
// when the header is absent or not a single byte range, in which case the
// whole entity is served. ok is false for an unsatisfiable range.
func ParseRange(header string, size int64) (start, end int64, present, ok bool) {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false, false
	}
	a, b, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return 0, 0, false, false
	}
	switch {
	case a == "":
		n, err := strconv.ParseInt(b, 10, 64)
		if err != nil || n <= 0 || size == 0 {
			return 0, 0, true, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true, true
	default:
		s, err := strconv.ParseInt(a, 10, 64)
		if err != nil || s < 0 {
			return 0, 0, false, false
		}
		if s >= size {
			return 0, 0, true, false
		}
		e := size - 1
		if b != "" {
			v, err := strconv.ParseInt(b, 10, 64)
			if err != nil || v < s {
				return 0, 0, false, false
			}
			if v < e {
				e = v
			}
		}
		return s, e, true, true
	}
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// serveFile opens name before any response header is set so a failed open
// replies without validators.
func (s *Server) serveFile(x *Exchange, fsys fs.FS, name string, fi fs.FileInfo) {
	f, err := fsys.Open(name)
	if err != nil {
		x.ReplyError(http.StatusNotFound)
		return
	}
	size := fi.Size()
	etag := ETag(fi)
	lastMod := fi.ModTime().UTC().Format(http.TimeFormat)
	if notModified(x, etag, fi.ModTime()) {
		f.Close()
		x.SetHeader("ETag", etag)
		x.SetHeader("Last-Modified", lastMod)
		x.Reply(http.StatusNotModified, nil)
		return
	}

	status, start, n := http.StatusOK, int64(0), size
	var contentRange string
	if h := x.Header("Range"); h != "" {
		rs, re, present, ok := ParseRange(h, size)
		switch {
		case present && !ok:
			f.Close()
			x.SetHeader("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
			x.ReplyError(http.StatusRequestedRangeNotSatisfiable)
			return
		case present:
			status, start, n = http.StatusPartialContent, rs, re-rs+1
			contentRange = fmt.Sprintf("bytes %d-%d/%d", rs, re, size)
		}
	}
	streaming := !x.head && n > 0
	if streaming && start > 0 {
		if err := skip(f, start); err != nil {
			f.Close()
			x.ReplyError(http.StatusInternalServerError)
			return
		}
	}

	x.SetHeader("ETag", etag)
	x.SetHeader("Last-Modified", lastMod)
	x.SetHeader("Accept-Ranges", "bytes")
	if contentRange != "" {
		x.SetHeader("Content-Range", contentRange)
	}
	x.SetHeader("Content-Type", contentType(name))
	x.writeHead(status, n)
	if !streaming {
		f.Close()
		x.ss.done(x.Conn, x.keepAlive)
		return
	}
	x.ss.stream(x.Conn, f, n)
}

func skip(f fs.File, n int64) error {
	if sk, ok := f.(io.Seeker); ok {
		_, err := sk.Seek(n, io.SeekStart)
		return err
	}
	_, err := io.CopyN(io.Discard, f, n)
	return err
}
