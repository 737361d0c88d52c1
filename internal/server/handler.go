// Package server implements the per-connection command loop and the
// accept/admission/drain lifecycle around it.
package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"kvbus/internal/applog"
	"kvbus/internal/command"
	"kvbus/internal/metrics"
	"kvbus/internal/resp"
	"kvbus/internal/store"
)

// Handler owns one accepted connection: it decodes frames, dispatches
// commands against a shared Store, and writes responses, until the
// connection closes, a protocol error occurs, or shutdown is signalled.
type Handler struct {
	conn    net.Conn
	store   *store.Store
	dec     *resp.Decoder
	w       *bufio.Writer
	done    <-chan struct{}
	log     *slog.Logger
	traceID string
	metrics *metrics.Metrics // nil-safe: no-op when the caller wires none
}

// NewHandler builds a Handler for an already-accepted connection. done is
// closed to signal shutdown; every Handler receives the same channel. m
// may be nil, in which case metrics recording is skipped.
func NewHandler(conn net.Conn, s *store.Store, done <-chan struct{}, log *slog.Logger, traceID string, m *metrics.Metrics) *Handler {
	return &Handler{
		conn:    conn,
		store:   s,
		dec:     resp.NewDecoder(conn),
		w:       bufio.NewWriter(conn),
		done:    done,
		log:     log,
		traceID: traceID,
		metrics: m,
	}
}

type frameResult struct {
	frame resp.Frame
	err   error
}

// Serve runs the per-connection loop until the stream ends, a protocol
// error occurs, or shutdown is observed. It always closes the connection
// before returning.
func (h *Handler) Serve() {
	ctx := applog.WithTraceID(context.Background(), h.traceID)
	defer h.conn.Close()

	for {
		select {
		case <-h.done:
			return
		default:
		}

		readDone := make(chan frameResult, 1)
		go func() {
			f, err := h.dec.ReadFrame()
			readDone <- frameResult{f, err}
		}()

		select {
		case <-h.done:
			h.conn.Close() // unblocks the in-flight Read
			<-readDone     // drain so the goroutine above never leaks
			return

		case res := <-readDone:
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					return
				}
				h.log.Warn("connection read failed", append(applog.WithTrace(ctx), slog.Any("err", res.err))...)
				return
			}
			if !h.handleFrame(ctx, res.frame) {
				return
			}
		}
	}
}

// handleFrame processes one request frame and reports whether the
// connection should continue.
func (h *Handler) handleFrame(ctx context.Context, frame resp.Frame) bool {
	cmd, err := command.FromFrame(frame)
	if err != nil {
		var cerr *command.CommandError
		if errors.As(err, &cerr) {
			return h.writeAndContinue(resp.ErrorString(err.Error()))
		}
		h.log.Warn("protocol error parsing command", append(applog.WithTrace(ctx), slog.Any("err", err))...)
		return false
	}

	name := command.Name(cmd)
	if h.metrics != nil {
		h.metrics.CommandsTotal.WithLabelValues(name).Inc()
		if _, ok := cmd.(command.Publish); ok {
			h.metrics.PublishTotal.Inc()
		}
	}

	if sub, ok := cmd.(command.Subscribe); ok {
		return h.runSubscribeSession(ctx, sub.Channels)
	}

	reply, err := command.Apply(h.store, cmd)
	if err != nil {
		var cerr *command.CommandError
		if errors.As(err, &cerr) {
			if h.metrics != nil {
				h.metrics.CommandErrors.WithLabelValues(name).Inc()
			}
			return h.writeAndContinue(resp.ErrorString(err.Error()))
		}
		h.log.Warn("command apply failed", append(applog.WithTrace(ctx), slog.Any("err", err))...)
		return false
	}
	if _, isErr := reply.(resp.ErrorString); isErr && h.metrics != nil {
		h.metrics.CommandErrors.WithLabelValues(name).Inc()
	}
	return h.writeAndContinue(reply)
}

func (h *Handler) writeAndContinue(f resp.Frame) bool {
	if err := resp.WriteFrame(h.w, f); err != nil {
		return false
	}
	return h.w.Flush() == nil
}
