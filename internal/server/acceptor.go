package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"kvbus/internal/applog"
	"kvbus/internal/metrics"
	"kvbus/internal/store"
)

// maxConnections bounds concurrently live connections; the admission
// semaphore blocks Accept beyond this (§4.6, §9 "Admission control").
const maxConnections = 1024

// Acceptor runs the accept loop: admission control, per-connection
// Handler spawn, exponential backoff on Accept errors, and a graceful
// drain on shutdown.
type Acceptor struct {
	ln      net.Listener
	store   *store.Store
	log     *slog.Logger
	metrics *metrics.Metrics

	sem  chan struct{}
	wg   sync.WaitGroup
	done chan struct{}

	counterMu   sync.Mutex
	connCounter uint64
}

// NewAcceptor builds an Acceptor over an already-bound listener. m may
// be nil, in which case metrics recording is skipped.
func NewAcceptor(ln net.Listener, s *store.Store, log *slog.Logger, m *metrics.Metrics) *Acceptor {
	return &Acceptor{
		ln:      ln,
		store:   s,
		log:     log,
		metrics: m,
		sem:     make(chan struct{}, maxConnections),
		done:    make(chan struct{}),
	}
}

// Run drives the accept loop until Shutdown is called or Accept fails
// terminally after backoff exhaustion.
func (a *Acceptor) Run() error {
	bo := newBackoff()
	bo.OnEscalate = func(attempt int, wait time.Duration) {
		a.log.Warn("accept backing off", slog.Int("attempt", attempt), slog.Duration("wait", wait))
	}

	for {
		select {
		case a.sem <- struct{}{}:
		case <-a.done:
			return nil
		}

		conn, err := a.ln.Accept()
		if err != nil {
			<-a.sem
			select {
			case <-a.done:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			wait, exhausted := bo.next()
			if exhausted {
				a.log.Error("accept backoff exhausted, giving up", slog.Any("err", err))
				return err
			}
			if a.metrics != nil {
				a.metrics.AcceptBackoffs.Inc()
			}
			select {
			case <-time.After(wait):
			case <-a.done:
				return nil
			}
			continue
		}
		bo.reset()

		if a.metrics != nil {
			a.metrics.ConnectionsTotal.Inc()
			a.metrics.ConnectionsOpen.Inc()
		}

		traceID := a.nextTraceID()
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer func() { <-a.sem }()
			if a.metrics != nil {
				defer a.metrics.ConnectionsOpen.Dec()
			}
			NewHandler(conn, a.store, a.done, a.log, traceID, a.metrics).Serve()
		}()
	}
}

func (a *Acceptor) nextTraceID() string {
	a.counterMu.Lock()
	a.connCounter++
	n := a.connCounter
	a.counterMu.Unlock()
	return applog.NewConnTraceID(n, time.Now())
}

// Shutdown stops admitting new connections, signals every live Handler
// to terminate at its next safe point, and waits for them to drain or
// for ctx to expire, whichever comes first.
func (a *Acceptor) Shutdown(ctx context.Context) error {
	close(a.done)
	a.ln.Close()

	drained := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
