package core

import (
	"context"
	"sync"
	"time"

	"github.com/jabolina/relt/pkg/relt"

	"github.com/jabolina/must-go/types"
)

// Strategy implements C2: framed records over C1 with the token set of
// spec.md §4.2, record aggregation (Records buffered while aggregation is
// on and then dispatched one at a time by Flush or DisableAggregation),
// and the up/down/intra direction split.
// Grounded on the teacher's ReliableTransport.apply/Broadcast/Unicast
// (core/transport.go): JSON-framed sends over a reliable group transport,
// generalized from a flat partition list to up/down/intra directions.
type Strategy struct {
	mutex sync.Mutex

	trans Transport
	log   types.Logger

	// intra is the reliable group transport used among the peer tool
	// nodes of one partition (spec.md §4.2's "intra" direction), exactly
	// as the teacher used relt for its single Broadcast/Unicast surface.
	intra     *relt.Relt
	intraCtx  context.Context
	intraStop context.CancelFunc
	partition string

	aggregating bool
	buffer      []Record

	panicked bool

	consumer chan Record
}

// NewStrategy wires trans (C1) for up/down delivery and, if partition is
// non-empty, a relt group for the intra direction (spec.md §4.1's
// "communication strategy" sits directly atop the transport).
func NewStrategy(trans Transport, partition string, log types.Logger) (*Strategy, error) {
	s := &Strategy{
		trans:       trans,
		log:         log,
		aggregating: true,
		consumer:    make(chan Record, 256),
		partition:   partition,
	}

	if partition != "" {
		conf := relt.DefaultReltConfiguration()
		conf.Name = partition
		conf.Exchange = relt.GroupAddress(partition)
		r, err := relt.NewRelt(*conf)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.intra = r
		s.intraCtx = ctx
		s.intraStop = cancel
		go s.pollIntra()
	}

	go s.pollUpDown()

	return s, nil
}

func (s *Strategy) pollUpDown() {
	for rec := range s.trans.Listen() {
		s.consumer <- rec
	}
}

func (s *Strategy) pollIntra() {
	listener, err := s.intra.Consume()
	if err != nil {
		s.log.Errorf("strategy: intra consume failed: %v", err)
		return
	}
	for {
		select {
		case <-s.intraCtx.Done():
			return
		case recv, ok := <-listener:
			if !ok {
				return
			}
			if recv.Error != nil {
				s.log.Errorf("strategy: intra recv error from %s: %v", recv.Origin, recv.Error)
				continue
			}
			s.consumer <- Record{Token: TokenMsg, Direction: DirIntra, Origin: recv.Origin, Payload: recv.Data}
		}
	}
}

// Records exposes every delivered record, regardless of direction, for
// C3's scheduler loop to dispatch.
func (s *Strategy) Records() <-chan Record {
	return s.consumer
}

// Send emits rec immediately or, while aggregation is enabled, buffers it
// for the next Flush (spec.md §4.2's "aggregation" and the panic
// pipeline's "sends become immediate").
func (s *Strategy) Send(rec Record) error {
	s.mutex.Lock()
	aggregating := s.aggregating && !s.panicked
	if aggregating {
		s.buffer = append(s.buffer, rec)
		s.mutex.Unlock()
		return nil
	}
	s.mutex.Unlock()

	return s.dispatch(rec)
}

func (s *Strategy) dispatch(rec Record) error {
	switch rec.Direction {
	case DirUp:
		return s.trans.SendUp(rec)
	case DirDown:
		if rec.Target != "" {
			return s.trans.SendDown(rec.Target, rec)
		}
		return s.trans.BroadcastDown(rec)
	default: // DirIntra
		if s.intra == nil {
			return s.trans.BroadcastDown(rec)
		}
		timeout, cancel := context.WithTimeout(s.intraCtx, 250*time.Millisecond)
		defer cancel()
		return s.intra.Broadcast(timeout, relt.Send{
			Address: relt.GroupAddress(s.partition),
			Data:    rec.Payload,
		})
	}
}

// SendUp and BroadcastDown send rec immediately, bypassing aggregation:
// used by the panic and snapshot control planes (spec.md §4.10/§4.11),
// where buffering a control record behind application traffic would
// defeat its purpose.
func (s *Strategy) SendUp(rec Record) error {
	return s.trans.SendUp(rec)
}

func (s *Strategy) BroadcastDown(rec Record) error {
	return s.trans.BroadcastDown(rec)
}

// Flush forces every buffered record out, used before a deadlock report
// and as part of C11's normal finalize drain (spec.md §4.11).
func (s *Strategy) Flush() {
	s.mutex.Lock()
	pending := s.buffer
	s.buffer = nil
	s.mutex.Unlock()

	for _, rec := range pending {
		if err := s.dispatch(rec); err != nil {
			s.log.Errorf("strategy: flush dispatch failed: %v", err)
		}
	}
}

// DisableAggregation turns off buffering so every subsequent Send is
// immediate, per spec.md §4.11's panic pipeline ("aggregation is
// disabled and sends become immediate").
func (s *Strategy) DisableAggregation() {
	s.mutex.Lock()
	s.aggregating = false
	s.panicked = true
	pending := s.buffer
	s.buffer = nil
	s.mutex.Unlock()

	for _, rec := range pending {
		if err := s.dispatch(rec); err != nil {
			s.log.Errorf("strategy: panic drain dispatch failed: %v", err)
		}
	}
}

// PendingBytes reports the size of currently buffered, not-yet-sent
// payload, the in-flight byte count C10's quiescence probe polls.
func (s *Strategy) PendingBytes() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	n := 0
	for _, r := range s.buffer {
		n += len(r.Payload)
	}
	return n
}

func (s *Strategy) Close() error {
	if s.intraStop != nil {
		s.intraStop()
	}
	if s.intra != nil {
		if err := s.intra.Close(); err != nil {
			s.log.Errorf("strategy: intra close failed: %v", err)
		}
	}
	return s.trans.Close()
}
