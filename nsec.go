/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package authdns

import (
	"sort"

	"github.com/miekg/dns"
)

// appendDenialProof adds the NSEC (or NSEC3) record(s) proving qname
// does not exist, per §4.4.4/§4.4.7. When the zone has no NSEC3
// parameter set this falls back to the flat predecessor-NSEC chain;
// the hashed variant is delegated to the nsec3 package (kept as a
// sibling package per SPEC_FULL.md's package layout, so the iterated
// hashing and base32 machinery stay out of the hot query path here).
func appendDenialProof(resp *Response, zone *Zone, qname Name) {
	if zone.NSEC3 != nil {
		appendNSEC3CoverProof(resp, zone, qname)
		return
	}
	pred := zone.predecessorForNSEC(qname)
	if rrset, ok := zone.FindRRset(pred, dns.TypeNSEC); ok {
		resp.Authority = append(resp.Authority, rrset.RRs...)
		resp.Authority = append(resp.Authority, rrset.RRSIGs...)
	}
}

// appendWildcardDenial adds the NSEC proving no closer match exists
// than the wildcard's parent (the "wildcard itself covered the
// match" proof of §4.4.4's wildcard-synthesis branch).
func appendWildcardDenial(resp *Response, zone *Zone, encloser *Domain) {
	if zone.NSEC3 != nil {
		appendNSEC3WildcardProof(resp, zone, encloser)
		return
	}
	if rrset, ok := zone.FindRRset(encloser, dns.TypeNSEC); ok {
		resp.Authority = append(resp.Authority, rrset.RRs...)
		resp.Authority = append(resp.Authority, rrset.RRSIGs...)
	}
}

// appendWildcardNonexistence adds the NSEC proving no wildcard exists
// at the closest encloser (the NXDOMAIN-path twin of appendDenialProof).
func appendWildcardNonexistence(resp *Response, zone *Zone, encloser *Domain) {
	appendWildcardDenial(resp, zone, encloser)
}

// predecessorForNSEC returns the domain whose NSEC record covers
// qname: the greatest existing domain <= qname that owns at least one
// RRset, so an empty non-terminal (qname's own domain or the closest
// match) is skipped by walking on to its canonical predecessor.
func (z *Zone) predecessorForNSEC(qname Name) *Domain {
	z.mu.RLock()
	defer z.mu.RUnlock()
	pos := sort.Search(len(z.order), func(i int) bool {
		return CompareCanonical(z.nameAt(z.order[i]), qname) > 0
	})
	for range z.order {
		if pos == 0 {
			pos = len(z.order)
		}
		pos--
		if d := z.Domains[z.order[pos]]; d.IsExisting && d.RRtypes.Count() > 0 {
			return d
		}
	}
	return z.predecessorLocked(qname)
}
