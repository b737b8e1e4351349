/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package authdns

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/miekg/dns"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/twotwotwo/sorts"
)

// NSEC3Params mirrors the zone's stored NSEC3 parameter set (§3.3):
// algorithm, iterations and salt, plus the sorted chain of NSEC3 owner
// hashes that find_cover (nsec3 package) searches, wrap-around included.
type NSEC3Params struct {
	Algorithm  uint8
	Iterations uint16
	Salt       []byte
	// SortedHashes and OwnerByHash are populated at zone load time
	// (attachNSEC3) so find_cover (nsec3 package) can binary-search the
	// chain; difflog replay does not update them.
	// OwnerByHash maps a hash back to the domain name that owns the
	// NSEC3 record at that hash.
	SortedHashes []string
	OwnerByHash  map[string]string
}

// Zone is a rooted subtree identified by its apex domain (§3.3). The
// name graph is held as an arena (Domains) addressed by typed index
// rather than pointer, per the design note in §9: domains never move
// once inserted, so an index is stable across the zone's lifetime.
type Zone struct {
	mu sync.RWMutex

	ApexName string
	Domains  []*Domain      // arena; index 0 is always the apex
	byName   map[string]int32
	order    []int32 // Domains indices in DNSSEC canonical order

	SOA       RRset
	NegSOA    RRset // SOA clone, TTL clamped to MINIMUM, for negative answers
	ApexNS    RRset
	IsSecure  bool
	NSEC3     *NSEC3Params
	IxfrChain []IxfrDelta

	CurrentSerial uint32
	ACL           []ACLEntry
	Parent        string // name of the parent zone, if also served here
	Options       map[ZoneOption]bool

	Error    bool
	ErrorType ErrorType
	ErrorMsg string

	Logger *log.Logger
}

// SetError records (or clears, via NoError) the zone's last operational
// error, surfaced through the stats/debug endpoint.
func (z *Zone) SetError(errtype ErrorType, errmsg string, args ...interface{}) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if errtype == NoError {
		z.Error = false
		z.ErrorType = NoError
		z.ErrorMsg = ""
		return
	}
	z.Error = true
	z.ErrorType = errtype
	z.ErrorMsg = fmt.Sprintf(errmsg, args...)
}

// IxfrDelta is one stored incremental-transfer delta (§3.3, §4.4.9):
// a bounded set of removed/added RRsets between two SOA serials,
// cached as precomputed RRs so streaming it back out is a copy.
type IxfrDelta struct {
	FromSerial uint32
	ToSerial   uint32
	Removed    []RRset
	Added      []RRset
}

// NewZone creates an empty zone with only its apex domain present.
func NewZone(apex string) *Zone {
	z := &Zone{
		ApexName: apex,
		byName:   make(map[string]int32),
		Options:  make(map[ZoneOption]bool),
	}
	apexDomain := NewDomain(apex, 0, -1)
	z.Domains = append(z.Domains, apexDomain)
	z.byName[apex] = 0
	z.order = []int32{0}
	return z
}

// domainIndex returns the arena index of name, or -1 if absent.
func (z *Zone) domainIndex(name string) int32 {
	if idx, ok := z.byName[name]; ok {
		return idx
	}
	return -1
}

// GetOrCreateDomain returns the domain named name, creating it and
// every ancestor domain between name and the zone apex that does not
// yet exist (§3.2/§3.4's empty-non-terminal invariant): a wildcard's
// immediate parent, or any owner name several labels below the apex,
// must have a Domain node in z.order even when it owns no RRset of
// its own, since closestEncloserLocked, predecessorLocked, and
// maybeLinkWildcard all operate over the domain arena rather than
// scanning RR contents.
func (z *Zone) GetOrCreateDomain(name string) *Domain {
	z.mu.Lock()
	defer z.mu.Unlock()
	if idx, ok := z.byName[name]; ok {
		return z.Domains[idx]
	}
	idx := int32(len(z.Domains))
	d := NewDomain(name, uint32(idx), -1)
	z.Domains = append(z.Domains, d)
	z.byName[name] = idx
	z.insertCanonical(idx)
	z.ensureAncestorsLocked(name)
	z.maybeLinkWildcard(name, idx)
	return d
}

// ensureAncestorsLocked creates (or marks existing) every domain
// strictly between name and the zone apex, so a newly inserted owner
// name leaves behind a complete empty-non-terminal chain. Stops at the
// first ancestor already present, since that ancestor and everything
// above it were already completed by an earlier call (or is the apex,
// which always exists). Caller must hold z.mu for writing.
func (z *Zone) ensureAncestorsLocked(name string) {
	if name == z.ApexName {
		return
	}
	n, err := NameFromString(name)
	if err != nil {
		return
	}
	for {
		parent := n.StripLeft(1)
		parentName := parent.String()
		if idx, ok := z.byName[parentName]; ok {
			z.Domains[idx].IsExisting = true
			return
		}
		idx := int32(len(z.Domains))
		d := NewDomain(parentName, uint32(idx), -1)
		d.IsExisting = true
		z.Domains = append(z.Domains, d)
		z.byName[parentName] = idx
		z.insertCanonical(idx)
		z.maybeLinkWildcard(parentName, idx)
		if parentName == z.ApexName {
			return
		}
		n = parent
	}
}

// GetDomain returns the domain named name without creating it.
func (z *Zone) GetDomain(name string) (*Domain, bool) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	idx, ok := z.byName[name]
	if !ok {
		return nil, false
	}
	return z.Domains[idx], true
}

func (z *Zone) nameAt(idx int32) Name {
	n, _ := NameFromString(z.Domains[idx].Name)
	return n
}

// SOASerial returns the zone's current SOA serial, exported so the
// authdogctl notify subcommand (§4) can read it without reaching into
// zone internals, and so difflog's ZoneMutator interface can check a
// delta's FromSerial against the zone it applies to.
func (z *Zone) SOASerial() uint32 {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.CurrentSerial
}

// Serial satisfies difflog.ZoneMutator.
func (z *Zone) Serial() uint32 { return z.SOASerial() }

// SetSerial updates the zone's current serial, called after a difflog
// delta has been fully applied (§4.6.2).
func (z *Zone) SetSerial(serial uint32) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.CurrentSerial = serial
	if len(z.SOA.RRs) > 0 {
		if soa, ok := z.SOA.RRs[0].(*dns.SOA); ok {
			soa.Serial = serial
		}
	}
}

// AddRR inserts rr into the RRset it belongs to, creating the owner
// domain if necessary. It is the single apply-side path shared by
// zonefile loading (loadZoneFile) and difflog replay (§4.6.2): RRSIGs
// are appended to the covered RRset's RRSIGs slice rather than stored
// under their own TypeRRSIG entry, and a SOA/apex-NS RR also refreshes
// z.SOA/z.NegSOA/z.CurrentSerial/z.ApexNS/z.IsSecure.
func (z *Zone) AddRR(rr dns.RR) {
	hdr := rr.Header()
	d := z.GetOrCreateDomain(hdr.Name)
	d.IsExisting = true

	if sig, ok := rr.(*dns.RRSIG); ok {
		rrset, _ := d.RRtypes.Get(sig.TypeCovered)
		rrset.Name = hdr.Name
		rrset.RRtype = sig.TypeCovered
		rrset.RRSIGs = append(rrset.RRSIGs, rr)
		d.RRtypes.Set(sig.TypeCovered, rrset)
		if sig.TypeCovered == dns.TypeSOA && hdr.Name == z.ApexName {
			z.refreshSOACache(rrset)
		}
		return
	}

	rrset, _ := d.RRtypes.Get(hdr.Rrtype)
	rrset.Name = hdr.Name
	rrset.RRtype = hdr.Rrtype
	rrset.RRs = append(rrset.RRs, rr)
	d.RRtypes.Set(hdr.Rrtype, rrset)

	switch v := rr.(type) {
	case *dns.SOA:
		z.refreshSOACache(rrset)
		z.mu.Lock()
		z.CurrentSerial = v.Serial
		z.mu.Unlock()
	case *dns.NS:
		if hdr.Name == z.ApexName {
			apexNS, _ := d.RRtypes.Get(dns.TypeNS)
			z.mu.Lock()
			z.ApexNS = apexNS
			z.mu.Unlock()
		}
	}
}

// refreshSOACache rebuilds z.SOA/z.NegSOA from the apex SOA
// RRset (soa) and recomputes z.IsSecure from it: §3.3 defines
// is_secure as "true iff the apex SOA is covered by an RRSIG",
// independent of whether the zone also carries NSEC3 parameters, so
// this must be evaluated on every (re)load of the apex SOA RRset
// rather than only when NSEC3 is configured (see attachNSEC3).
func (z *Zone) refreshSOACache(soa RRset) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.SOA = soa
	negSOA := soa
	negSOA.RRs = cloneRRsWithOwner(soa.RRs, soa.Name)
	if len(negSOA.RRs) > 0 {
		if rr, ok := negSOA.RRs[0].(*dns.SOA); ok && rr.Minttl < rr.Ttl {
			rr.Ttl = rr.Minttl
		}
	}
	z.NegSOA = negSOA
	z.IsSecure = len(soa.RRSIGs) > 0
}

// DeleteAllRRs empties every domain's RRsets, keeping only the apex
// node, in preparation for an AXFR-form replay (§4.6.2 step 2: "the
// message is an AXFR: delete every RR of the zone... then insert
// every subsequent RR").
func (z *Zone) DeleteAllRRs() {
	z.mu.Lock()
	defer z.mu.Unlock()
	apex := z.Domains[0]
	z.Domains = []*Domain{apex}
	z.byName = map[string]int32{z.ApexName: 0}
	z.order = []int32{0}
	apex.RRtypes = NewConcurrentRRTypeStore()
	apex.WildcardChild = -1
	z.SOA = RRset{}
	z.NegSOA = RRset{}
	z.ApexNS = RRset{}
}

// RemoveRR deletes rr from its RRset by exact match, dropping the
// RRtype entry entirely once its last RR is gone. Following NSD's
// difffile.c delete_RR (§4, "empty non-terminal bookkeeping on
// delete"), a domain that loses its last RRset is marked non-existing
// only if it also has no existing descendant: an empty non-terminal
// implied by a surviving deeper name must stay existing so its NSEC
// chain position remains correct.
func (z *Zone) RemoveRR(rr dns.RR) {
	hdr := rr.Header()
	d, ok := z.GetDomain(hdr.Name)
	if !ok {
		return
	}

	if sig, ok := rr.(*dns.RRSIG); ok {
		rrset, ok := d.RRtypes.Get(sig.TypeCovered)
		if !ok {
			return
		}
		rrset.RRSIGs = removeRR(rrset.RRSIGs, rr)
		d.RRtypes.Set(sig.TypeCovered, rrset)
		return
	}

	rrset, ok := d.RRtypes.Get(hdr.Rrtype)
	if !ok {
		return
	}
	rrset.RRs = removeRR(rrset.RRs, rr)
	if len(rrset.RRs) == 0 && len(rrset.RRSIGs) == 0 {
		d.RRtypes.Delete(hdr.Rrtype)
	} else {
		d.RRtypes.Set(hdr.Rrtype, rrset)
	}

	if d.RRtypes.Count() == 0 {
		z.mu.RLock()
		hasDescendant := z.hasExistingDescendantLocked(d.Name)
		z.mu.RUnlock()
		d.IsExisting = hasDescendant
	}
}

// hasExistingDescendantLocked reports whether any domain strictly
// below name is still existing. Canonical order groups every
// descendant of name into the contiguous run immediately following
// it (DNSSEC ordering compares the rightmost label first, so a name
// always sorts immediately before its subtree), so this is a single
// forward scan from name's position rather than a full-zone walk.
// Caller must hold z.mu for reading.
func (z *Zone) hasExistingDescendantLocked(name string) bool {
	idx, ok := z.byName[name]
	if !ok {
		return false
	}
	pos := -1
	for i, di := range z.order {
		if di == idx {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false
	}
	suffix := "." + name
	for i := pos + 1; i < len(z.order); i++ {
		d := z.Domains[z.order[i]]
		if !strings.HasSuffix(d.Name, suffix) {
			break
		}
		if d.IsExisting {
			return true
		}
	}
	return false
}

// removeRR returns rrs with the first element equal to target (by
// normalised presentation form) removed.
func removeRR(rrs []dns.RR, target dns.RR) []dns.RR {
	for i, rr := range rrs {
		if dns.IsDuplicate(rr, target) {
			return append(rrs[:i], rrs[i+1:]...)
		}
	}
	return rrs
}

// insertCanonical keeps z.order sorted in DNSSEC canonical order. The
// zone is mutated only by batched diff-apply (§5), so an O(n) insert
// per new domain is acceptable; lookups remain O(log n) via binary
// search against this slice between applies.
func (z *Zone) insertCanonical(idx int32) {
	target := z.nameAt(idx)
	pos := sort.Search(len(z.order), func(i int) bool {
		return CompareCanonical(z.nameAt(z.order[i]), target) >= 0
	})
	z.order = append(z.order, 0)
	copy(z.order[pos+1:], z.order[pos:])
	z.order[pos] = idx
}

// canonicalOrder adapts z.order into a sort.Interface ordered by
// DNSSEC canonical name, for RebuildOrder's one-shot bulk sort.
type canonicalOrder struct {
	z     *Zone
	order []int32
}

func (c *canonicalOrder) Len() int      { return len(c.order) }
func (c *canonicalOrder) Swap(i, j int) { c.order[i], c.order[j] = c.order[j], c.order[i] }
func (c *canonicalOrder) Less(i, j int) bool {
	return CompareCanonical(c.z.nameAt(c.order[i]), c.z.nameAt(c.order[j])) < 0
}

// RebuildOrder recomputes z.order for every domain currently in
// z.Domains with a single parallel sort, the way the teacher's
// ComputeIndices rebuilds ZoneData.Owners with sorts.Quicksort after a
// zone is loaded in bulk, rather than paying insertCanonical's O(n)
// incremental-insert cost once per record. loadZoneFile calls this
// after the whole master file has been parsed; difflog replay keeps
// using the incremental path since it mutates an already-served zone
// one record at a time.
func (z *Zone) RebuildOrder() {
	z.mu.Lock()
	defer z.mu.Unlock()
	order := make([]int32, len(z.Domains))
	for i := range order {
		order[i] = int32(i)
	}
	sorts.Quicksort(&canonicalOrder{z: z, order: order})
	z.order = order
}

// maybeLinkWildcard wires parent.WildcardChild when name's leftmost
// label is the single-byte "*" label (§3.4 invariant).
func (z *Zone) maybeLinkWildcard(name string, idx int32) {
	n, err := NameFromString(name)
	if err != nil || n.LabelCount() == 0 {
		return
	}
	if lbl := n.LabelAt(0); len(lbl) == 2 && lbl[1] == '*' {
		parentName := n.StripLeft(1).String()
		if pidx, ok := z.byName[parentName]; ok {
			z.Domains[pidx].WildcardChild = idx
		}
	}
}

// LookupResult is the outcome of Lookup (§4.3): the closest existing
// ancestor-or-self (ClosestEncloser), the closest-match name used for
// predecessor/NSEC purposes, and whether qname matched exactly.
type LookupResult struct {
	Exact           bool
	ClosestEncloser *Domain
	ClosestMatch    *Domain
}

// Lookup implements the zone-database contract of §4.3: closest_match
// equals closest_encloser when exact; otherwise it is the
// lexicographically greatest existing name <= qname in canonical
// order (the NSEC-proof predecessor).
func (z *Zone) Lookup(qname Name) LookupResult {
	z.mu.RLock()
	defer z.mu.RUnlock()

	if idx, ok := z.byName[qname.String()]; ok && z.Domains[idx].IsExisting {
		return LookupResult{Exact: true, ClosestEncloser: z.Domains[idx], ClosestMatch: z.Domains[idx]}
	}

	encloser := z.closestEncloserLocked(qname)
	pred := z.predecessorLocked(qname)
	return LookupResult{Exact: false, ClosestEncloser: encloser, ClosestMatch: pred}
}

// closestEncloserLocked walks qname's ancestors (longest first) until
// it finds one that exists in the database; the apex always exists,
// so this never returns nil for a name within the zone.
func (z *Zone) closestEncloserLocked(qname Name) *Domain {
	lc := qname.LabelCount()
	apexLabels := (func() int { n, _ := NameFromString(z.ApexName); return n.LabelCount() })()
	for k := 0; k <= lc-apexLabels; k++ {
		anc := qname.StripLeft(k)
		if idx, ok := z.byName[anc.String()]; ok && z.Domains[idx].IsExisting {
			return z.Domains[idx]
		}
	}
	return z.Domains[0]
}

// predecessorLocked returns the greatest existing domain <= qname in
// canonical order, wrapping to the last domain if qname sorts before
// everything (mirrors the NSEC3 wrap-around rule of §4.4.7, applied
// uniformly here for the flat-NSEC predecessor walk too).
func (z *Zone) predecessorLocked(qname Name) *Domain {
	pos := sort.Search(len(z.order), func(i int) bool {
		return CompareCanonical(z.nameAt(z.order[i]), qname) > 0
	})
	for range z.order {
		if pos == 0 {
			pos = len(z.order)
		}
		pos--
		if d := z.Domains[z.order[pos]]; d.IsExisting {
			return d
		}
	}
	return z.Domains[0]
}

// Successor returns the domain immediately after d in canonical
// order, wrapping to the first domain after the last.
func (z *Zone) Successor(d *Domain) *Domain {
	z.mu.RLock()
	defer z.mu.RUnlock()
	pos := len(z.order)
	for i, di := range z.order {
		if di == int32(d.Number) {
			pos = i
			break
		}
	}
	if pos >= len(z.order)-1 {
		return z.Domains[z.order[0]]
	}
	return z.Domains[z.order[pos+1]]
}

// FindRRset returns the RRset of rrtype at domain, if present.
func (z *Zone) FindRRset(d *Domain, rrtype uint16) (RRset, bool) {
	if d == nil {
		return RRset{}, false
	}
	return d.RRtypes.Get(rrtype)
}

// FindEnclosingRRset walks from name up through its ancestors looking
// for an RRset of rrtype, per §4.3 (used to find a delegation NS
// RRset above the queried name).
func (z *Zone) FindEnclosingRRset(name Name, rrtype uint16) (*Domain, RRset, bool) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	lc := name.LabelCount()
	apexLabels := (func() int { n, _ := NameFromString(z.ApexName); return n.LabelCount() })()
	for k := 0; k <= lc-apexLabels; k++ {
		anc := name.StripLeft(k)
		idx, ok := z.byName[anc.String()]
		if !ok {
			continue
		}
		d := z.Domains[idx]
		if rrset, ok := d.RRtypes.Get(rrtype); ok {
			return d, rrset, true
		}
	}
	return nil, RRset{}, false
}

// IsGlue reports whether domain lies at or below an NS RRset other
// than the zone's own apex NS (§4.3).
func (z *Zone) IsGlue(name Name) bool {
	apex, _ := NameFromString(z.ApexName)
	if CompareCanonical(name, apex) == 0 {
		return false
	}
	d, _, ok := z.FindEnclosingRRset(name, dns.TypeNS)
	if !ok {
		return false
	}
	return d.Name != z.ApexName
}

// Registry is the set of zones an instance serves, keyed by apex name
// (§3.3, "zones are held in an ordered map keyed by apex name").
// Backed by a concurrent map the way the teacher's global Zones table
// is, since reload/diff-apply on one zone must not block lookups for
// another in flight.
type Registry struct {
	zones cmap.ConcurrentMap[string, *Zone]
}

func NewRegistry() *Registry {
	return &Registry{zones: cmap.New[*Zone]()}
}

func (r *Registry) Set(z *Zone) { r.zones.Set(z.ApexName, z) }

func (r *Registry) Get(apex string) (*Zone, bool) { return r.zones.Get(apex) }

func (r *Registry) Remove(apex string) { r.zones.Remove(apex) }

func (r *Registry) Keys() []string { return r.zones.Keys() }

// FindAuthoritativeZone returns the zone whose apex is the longest
// ancestor of name that is an apex in the registry (§4.3).
func (r *Registry) FindAuthoritativeZone(name Name) (*Zone, bool) {
	lc := name.LabelCount()
	for k := 0; k <= lc; k++ {
		anc := name.StripLeft(k)
		if z, ok := r.zones.Get(anc.String()); ok {
			return z, true
		}
	}
	return nil, false
}

func (d *Domain) String() string {
	return fmt.Sprintf("Domain{%s #%d}", d.Name, d.Number)
}
