/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package authdns

import (
	"sync"
	"sync/atomic"

	"github.com/miekg/dns"
)

// Stats is the set of opaque atomic counters the core exposes at
// stats-dump time (§6.4). Each field is updated with atomic.Add*;
// readers (the stats HTTP endpoint) take a snapshot via
// Snapshot rather than reading fields directly.
type Stats struct {
	TotalQueries   atomic.Uint64
	QueriesByClass [dns.ClassANY + 1]atomic.Uint64
	queriesByType  sync.Map // uint16 -> *atomic.Uint64
	WithAA         atomic.Uint64
	WithoutAA      atomic.Uint64
	EDNSQueries    atomic.Uint64
	TSIGErrors     atomic.Uint64
	Truncated      atomic.Uint64
	Dropped        atomic.Uint64
	ByRcode        [dns.RcodeBadCookie + 1]atomic.Uint64

	// StatIxfrFallbackToAxfr is a supplemented counter (SPEC_FULL §4):
	// NSD's ixfr.c tracks this distinctly from a plain AXFR request.
	StatIxfrFallbackToAxfr atomic.Uint64
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) RecordQuery(class, qtype uint16, withAA bool, edns bool) {
	s.TotalQueries.Add(1)
	if int(class) < len(s.QueriesByClass) {
		s.QueriesByClass[class].Add(1)
	}
	s.typeCounter(qtype).Add(1)
	if withAA {
		s.WithAA.Add(1)
	} else {
		s.WithoutAA.Add(1)
	}
	if edns {
		s.EDNSQueries.Add(1)
	}
}

// typeCounter returns the counter for qtype, creating it on first use.
func (s *Stats) typeCounter(qtype uint16) *atomic.Uint64 {
	if v, ok := s.queriesByType.Load(qtype); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := s.queriesByType.LoadOrStore(qtype, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

// QueriesByType returns a point-in-time copy of the per-RRtype query
// counters (§6.4: "answers per class and per type").
func (s *Stats) QueriesByType() map[uint16]uint64 {
	out := make(map[uint16]uint64)
	s.queriesByType.Range(func(k, v interface{}) bool {
		out[k.(uint16)] = v.(*atomic.Uint64).Load()
		return true
	})
	return out
}

func (s *Stats) RecordRcode(rcode int) {
	if rcode >= 0 && rcode < len(s.ByRcode) {
		s.ByRcode[rcode].Add(1)
	}
}

// Snapshot is a point-in-time, non-atomic copy suitable for JSON
// marshalling by the stats HTTP endpoint.
type Snapshot struct {
	TotalQueries           uint64
	WithAA                 uint64
	WithoutAA              uint64
	EDNSQueries            uint64
	TSIGErrors             uint64
	Truncated              uint64
	Dropped                uint64
	StatIxfrFallbackToAxfr uint64
	QueriesByType          map[string]uint64
}

func (s *Stats) Snapshot() Snapshot {
	byType := make(map[string]uint64)
	for qtype, count := range s.QueriesByType() {
		byType[dns.TypeToString[qtype]] = count
	}
	return Snapshot{
		TotalQueries:           s.TotalQueries.Load(),
		WithAA:                 s.WithAA.Load(),
		WithoutAA:              s.WithoutAA.Load(),
		EDNSQueries:            s.EDNSQueries.Load(),
		TSIGErrors:             s.TSIGErrors.Load(),
		Truncated:              s.Truncated.Load(),
		Dropped:                s.Dropped.Load(),
		StatIxfrFallbackToAxfr: s.StatIxfrFallbackToAxfr.Load(),
		QueriesByType:          byType,
	}
}
