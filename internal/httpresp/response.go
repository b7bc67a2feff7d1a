// Package httpresp builds HTTP/1.1 responses: it stats and resolves a
// path against a Backend, substitutes one of the canned error pages on a
// 4xx, writes the status line and headers into a Buffer, and maps the
// resolved file's content into a second write-vector segment.
package httpresp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/weilai-dev/gowebserver/internal/httpbuf"
)

var errNotFound = errors.New("httpresp: not found")

var fileTypes = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/nsword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css",
	".js":    "text/javascript",
}

var statusText = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

var errorPage = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

// Response is a built HTTP response: a header Buffer plus an optional
// mapped file body, together forming the two-segment gather-write the
// reactor hands to writev.
type Response struct {
	Code      int
	KeepAlive bool
	Path      string

	Header  *httpbuf.Buffer
	content Content // nil if the body was written inline into Header (error fallback)
}

// Body returns the response's body bytes, separate from the header so
// the reactor can gather-write them as two segments without copying the
// (possibly very large, mmap'd) file into the header buffer.
func (r *Response) Body() []byte {
	if r.content == nil {
		return nil
	}
	return r.content.Bytes()
}

// Close releases the resolved file's mapping, if any.
func (r *Response) Close() error {
	if r.content != nil {
		return r.content.Close()
	}
	return nil
}

// Build resolves path against backend, substituting the corresponding
// error page on a non-2xx outcome, and returns a Response ready to
// gather-write. provisionalCode is the status the caller already
// determined from request parsing; the stat result always recomputes
// it (a provisional 400 whose path resolves to a readable file is
// served as 200, e.g. a failed register re-rendering its form).
func Build(backend Backend, path string, keepAlive bool, provisionalCode int) (*Response, error) {
	code := provisionalCode

	info, err := backend.Stat(path)
	switch {
	case err != nil || info.IsDir:
		code = 404
	case !info.Readable:
		code = 403
	default:
		code = 200
	}

	resp := &Response{Code: code, KeepAlive: keepAlive, Path: path, Header: httpbuf.New()}

	servePath := path
	if page, ok := errorPage[code]; ok {
		servePath = page
		if info2, err2 := backend.Stat(servePath); err2 == nil {
			info = info2
		}
	}

	writeStatusLine(resp)
	writeHeaders(resp, servePath)

	content, err := backend.Open(servePath)
	if err != nil {
		writeErrorContent(resp)
		return resp, nil
	}
	resp.content = content
	resp.Header.Append([]byte(fmt.Sprintf("Content-length: %d\r\n\r\n", len(content.Bytes()))))
	return resp, nil
}

func writeStatusLine(r *Response) {
	status, ok := statusText[r.Code]
	if !ok {
		r.Code = 400
		status = statusText[400]
	}
	r.Header.Append([]byte(fmt.Sprintf("HTTP/1.1 %d %s\r\n", r.Code, status)))
}

func writeHeaders(r *Response, servePath string) {
	r.Header.Append([]byte("Connection: "))
	if r.KeepAlive {
		r.Header.Append([]byte("keep-alive\r\n"))
		r.Header.Append([]byte("keep-alive: max=10, timeout=120\r\n"))
	} else {
		r.Header.Append([]byte("close\r\n"))
	}
	r.Header.Append([]byte("Content-type: " + fileType(servePath) + "\r\n"))
}

func fileType(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return "text/plain"
	}
	if t, ok := fileTypes[path[idx:]]; ok {
		return t
	}
	return "text/plain"
}

// writeErrorContent writes an inline fallback body when even the
// substituted error page itself can't be opened, rather than failing
// the response outright.
func writeErrorContent(r *Response) {
	status := statusText[r.Code]
	if status == "" {
		status = "Bad Request"
	}
	var b strings.Builder
	b.WriteString("<html><title>Error</title>")
	b.WriteString(`<body bgcolor="ffffff">`)
	b.WriteString(strconv.Itoa(r.Code) + " : " + status + "\n")
	b.WriteString("<p>File NotFound!</p>")
	b.WriteString("<hr><em>gowebserver</em></body></html>")
	body := b.String()

	r.Header.Append([]byte(fmt.Sprintf("Content-length: %d\r\n\r\n", len(body))))
	r.Header.Append([]byte(body))
}
