// Package tracelog wraps slog the same way the rest of this codebase's
// corpus does: a custom slog.Handler that always writes to an optional
// file and, above debug level (or when debug is forced on), also to
// stderr — so "-log trace.log -debug" behaves like a plain console run
// with a parallel file copy, and a bare run mirrors only info level
// and above to stderr.
package tracelog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Handler struct {
	out   io.Writer
	h     slog.Handler
	mu    *sync.Mutex
	debug bool
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.h.Enabled(ctx, level)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{out: h.out, h: h.h.WithAttrs(attrs), mu: h.mu, debug: h.debug}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{out: h.out, h: h.h.WithGroup(name), mu: h.mu, debug: h.debug}
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	parts := []string{r.Time.Format("2006/01/02 15:04:05"), r.Level.String() + ":", r.Message}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, a.Key+"="+a.Value.String())
		return true
	})
	line := []byte(strings.Join(parts, " ") + "\n")

	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.out != nil {
		_, err = h.out.Write(line)
	}
	if h.debug || r.Level > slog.LevelDebug {
		_, err = os.Stderr.Write(line)
	}
	return err
}

// SetDebug toggles whether debug-level records also go to stderr.
func (h *Handler) SetDebug(on bool) { h.debug = on }

// NewHandler returns a Handler writing to file (may be nil) at opts'
// level, mirroring records above debug level to stderr unconditionally
// and debug-level records there too when debug is set.
func NewHandler(file io.Writer, opts *slog.HandlerOptions, debug bool) *Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	inner := file
	if inner == nil {
		inner = io.Discard
	}
	return &Handler{
		out:   file,
		h:     slog.NewTextHandler(inner, opts),
		mu:    &sync.Mutex{},
		debug: debug,
	}
}

// IOTrace logs one I/O access: direction,
// port in decimal and hex, the bus controller's current device select,
// the value, and the PC the access originated from.
func IOTrace(log *slog.Logger, out bool, port uint16, selected int, value byte, pc uint16) {
	dir := "IN "
	if out {
		dir = "OUT"
	}
	log.Debug("io", "dir", dir, "port", port, "portHex", "0x"+hexByte(byte(port)),
		"select", selected, "value", "0x"+hexByte(value), "pc", "0x"+hexWord(pc))
}

func hexByte(b byte) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[b>>4], digits[b&0xF]})
}

func hexWord(w uint16) string {
	return hexByte(byte(w >> 8)) + hexByte(byte(w))
}
