/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package authdns

import (
	"github.com/miekg/dns"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// RRset is a non-empty ordered list of RRs sharing owner, class, and
// type; type and class are derived from the first element. RRSIGs
// covering this RRset are stored alongside it rather than as a
// same-named RRset of type RRSIG, so the signing appendix (§4.4.6)
// can find them in one lookup.
type RRset struct {
	Name   string
	RRtype uint16
	RRs    []dns.RR
	RRSIGs []dns.RR
}

// RRTypeStore is the per-owner map from RR type to RRset. It is kept
// as an interface, as in the teacher, so tests can substitute a plain
// map without pulling in the concurrent map shard machinery.
type RRTypeStore interface {
	Get(key uint16) (RRset, bool)
	Set(key uint16, value RRset)
	Delete(key uint16)
	GetOnlyRRSet(key uint16) RRset
	Count() int
	Keys() []uint16
}

// ConcurrentRRTypeStore backs RRTypeStore with a sharded concurrent
// map so that a zone reader and an in-flight diff-apply never race on
// Go's map implementation, even though the higher-level contract
// (§5, "exclusively read during query processing") never has the two
// overlap in practice.
type ConcurrentRRTypeStore struct {
	data cmap.ConcurrentMap[uint16, RRset]
}

func NewConcurrentRRTypeStore() *ConcurrentRRTypeStore {
	return &ConcurrentRRTypeStore{
		data: cmap.NewWithCustomShardingFunction[uint16, RRset](func(key uint16) uint32 {
			return uint32(key)
		}),
	}
}

func (s *ConcurrentRRTypeStore) Get(key uint16) (RRset, bool) { return s.data.Get(key) }

func (s *ConcurrentRRTypeStore) GetOnlyRRSet(key uint16) RRset {
	rrset, _ := s.data.Get(key)
	return rrset
}

func (s *ConcurrentRRTypeStore) Set(key uint16, value RRset) { s.data.Set(key, value) }

func (s *ConcurrentRRTypeStore) Delete(key uint16) { s.data.Remove(key) }

func (s *ConcurrentRRTypeStore) Count() int { return s.data.Count() }

func (s *ConcurrentRRTypeStore) Keys() []uint16 { return s.data.Keys() }

// Domain is a unique name node in the database (§3.2). Number is the
// domain's monotonically assigned arena index in its zone (0 is the
// apex); the encoder's compression table is keyed by name, not by
// Number. Parent is not maintained by Zone: every domain it creates
// carries -1. WildcardChild holds the index of this
// domain's "*"-labelled child, if any, used for wildcard synthesis.
type Domain struct {
	Name         string
	Number       uint32
	Parent       int32
	RRtypes      RRTypeStore
	IsExisting   bool
	WildcardChild int32 // -1 if none
}

func NewDomain(name string, number uint32, parent int32) *Domain {
	return &Domain{
		Name:          name,
		Number:        number,
		Parent:        parent,
		RRtypes:       NewConcurrentRRTypeStore(),
		WildcardChild: -1,
	}
}
