package server

import (
	"context"
	"errors"
	"fmt"

	"kvbus/internal/command"
	"kvbus/internal/resp"
	"kvbus/internal/store"
)

// subEvent is one item delivered from a channel's relay goroutine to the
// subscribe session's select loop.
type subEvent struct {
	channel string
	payload []byte
	lagged  bool
}

// session tracks the per-channel state of one connection's SUBSCRIBE
// session: each channel owns a live Subscription plus the relay
// goroutine feeding its messages into the shared events channel.
type session struct {
	subs   map[string]*store.Subscription
	stops  map[string]chan struct{}
	events chan subEvent
}

func newSession() *session {
	return &session{
		subs:   make(map[string]*store.Subscription),
		stops:  make(map[string]chan struct{}),
		events: make(chan subEvent, 64),
	}
}

// runSubscribeSession handles a connection from the moment it issues
// SUBSCRIBE until it has unsubscribed from every channel, at which point
// control returns to the outer command loop (§4.5). Only SUBSCRIBE and
// UNSUBSCRIBE are honoured while a session is active; anything else gets
// an error frame and the session continues.
func (h *Handler) runSubscribeSession(ctx context.Context, initial []string) bool {
	sess := newSession()
	defer h.closeAllSubs(sess)

	for _, ch := range initial {
		if !h.subscribeOne(sess, ch) {
			return false
		}
	}

	// At most one read is in flight: a pass that delivers a message leaves
	// the pending read running for the next pass instead of starting another.
	var readDone chan frameResult
	for {
		if len(sess.subs) == 0 {
			return true
		}

		if readDone == nil {
			readDone = make(chan frameResult, 1)
			go func(out chan<- frameResult) {
				f, err := h.dec.ReadFrame()
				out <- frameResult{f, err}
			}(readDone)
		}

		select {
		case <-h.done:
			h.conn.Close()
			<-readDone
			return false

		case ev := <-sess.events:
			if ev.lagged {
				// A lag notification just means some messages were
				// dropped for this subscriber; skip and keep going.
				if h.metrics != nil {
					h.metrics.SubscriberLagged.Inc()
				}
				continue
			}
			if !h.writeAndContinue(resp.Array{
				resp.NewBulkString("message"),
				resp.NewBulkString(ev.channel),
				resp.BulkString(ev.payload),
			}) {
				return false
			}

		case res := <-readDone:
			readDone = nil
			if res.err != nil {
				return false
			}
			if !h.handleSubscribeFrame(sess, res.frame) {
				return false
			}
		}
	}
}

func (h *Handler) handleSubscribeFrame(sess *session, frame resp.Frame) bool {
	cmd, err := command.FromFrame(frame)
	if err != nil {
		var cerr *command.CommandError
		if errors.As(err, &cerr) {
			return h.writeAndContinue(resp.ErrorString(err.Error()))
		}
		return false
	}

	switch c := cmd.(type) {
	case command.Subscribe:
		for _, ch := range c.Channels {
			if !h.subscribeOne(sess, ch) {
				return false
			}
		}
		return true

	case command.Unsubscribe:
		channels := c.Channels
		if len(channels) == 0 {
			for ch := range sess.subs {
				channels = append(channels, ch)
			}
		}
		for _, ch := range channels {
			if !h.unsubscribeOne(sess, ch) {
				return false
			}
		}
		return true

	default:
		return h.writeAndContinue(resp.ErrorString("err only SUBSCRIBE/UNSUBSCRIBE are valid during a subscribe session"))
	}
}

func (h *Handler) subscribeOne(sess *session, ch string) bool {
	if stop, ok := sess.stops[ch]; ok {
		close(stop)
		delete(sess.stops, ch)
		h.store.Unsubscribe(sess.subs[ch])
	}

	sub, count := h.store.Subscribe(ch)
	stop := make(chan struct{})
	sess.subs[ch] = sub
	sess.stops[ch] = stop
	go relayMessages(sub, stop, sess.events)
	if h.metrics != nil {
		h.metrics.SubscribersGauge.Inc()
	}

	return h.writeAndContinue(resp.Array{
		resp.NewBulkString("subscribe"),
		resp.NewBulkString(ch),
		resp.Integer(uint64(count)),
	})
}

func (h *Handler) unsubscribeOne(sess *session, ch string) bool {
	sub, ok := sess.subs[ch]
	if !ok {
		return h.writeAndContinue(resp.ErrorString(fmt.Sprintf("err not subscribed to channel '%s'", ch)))
	}

	close(sess.stops[ch])
	delete(sess.stops, ch)
	delete(sess.subs, ch)
	remaining := h.store.Unsubscribe(sub)
	if h.metrics != nil {
		h.metrics.SubscribersGauge.Dec()
	}

	return h.writeAndContinue(resp.Array{
		resp.NewBulkString("unsubscribe"),
		resp.NewBulkString(ch),
		resp.Integer(uint64(remaining)),
	})
}

// closeAllSubs stops every live relay goroutine and unsubscribes every
// remaining channel — run once as the session's exit path regardless of
// how it ended (drained, disconnected, or shut down).
func (h *Handler) closeAllSubs(sess *session) {
	for ch, stop := range sess.stops {
		close(stop)
		h.store.Unsubscribe(sess.subs[ch])
		if h.metrics != nil {
			h.metrics.SubscribersGauge.Dec()
		}
	}
}

// relayMessages forwards one Subscription's deliveries and lag signals
// into the session's shared events channel until stop closes. One
// goroutine per subscribed channel, mirroring the teacher's
// one-goroutine-per-concern connection handling.
func relayMessages(sub *store.Subscription, stop <-chan struct{}, events chan<- subEvent) {
	for {
		select {
		case <-stop:
			return
		case msg := <-sub.Messages():
			select {
			case events <- subEvent{channel: msg.Channel, payload: msg.Payload}:
			case <-stop:
				return
			}
		case <-sub.Lagged():
			select {
			case events <- subEvent{channel: sub.Channel(), lagged: true}:
			case <-stop:
				return
			}
		}
	}
}
