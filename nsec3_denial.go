/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package authdns

import (
	"github.com/authdns/authdns/nsec3"
	"github.com/miekg/dns"
)

// nsec3Hash computes qname's owner hash under zone's stored NSEC3
// parameters.
func nsec3Hash(zone *Zone, name string) string {
	return nsec3.Hash(name, zone.NSEC3.Iterations, zone.NSEC3.Salt)
}

// nsec3AppendByHash adds the NSEC3 RRset at chain position idx (the
// record FindCover/FindMatch selected for hash), if its owner domain is
// known to the zone.
func nsec3AppendByHash(resp *Response, zone *Zone, hash string, idx int) {
	if idx < 0 {
		return
	}
	ownerHash := zone.NSEC3.SortedHashes[idx]
	ownerName, ok := zone.NSEC3.OwnerByHash[ownerHash]
	if !ok {
		return
	}
	d, ok := zone.GetDomain(ownerName)
	if !ok {
		return
	}
	if rrset, ok := zone.FindRRset(d, dns.TypeNSEC3); ok {
		resp.Authority = append(resp.Authority, rrset.RRs...)
		resp.Authority = append(resp.Authority, rrset.RRSIGs...)
	}
}

// appendNSEC3CoverProof implements the NXDOMAIN/NODATA half of §4.4.7:
// up to two of the three possible NSEC3 records (closest encloser,
// next closer) proving qname does not exist.
func appendNSEC3CoverProof(resp *Response, zone *Zone, qname Name) {
	encloser := zone.closestEncloserName(qname)
	ceHash := nsec3Hash(zone, encloser.String())
	ceIdx := nsec3.FindMatch(zone.NSEC3.SortedHashes, ceHash)
	nsec3AppendByHash(resp, zone, ceHash, ceIdx)

	elc := encloser.LabelCount()
	qlc := qname.LabelCount()
	if qlc > elc {
		nextCloser := qname.StripLeft(qlc - elc - 1)
		ncHash := nsec3Hash(zone, nextCloser.String())
		ncIdx := nsec3.FindCover(zone.NSEC3.SortedHashes, ncHash)
		nsec3AppendByHash(resp, zone, ncHash, ncIdx)
	}
}

// appendNSEC3WildcardProof implements the third NSEC3 of §4.4.7: the
// covering record at "*.<closest encloser>", proving no wildcard
// exists (or, on the synthesis path, that the wildcard itself is the
// covering record used to justify the synthesis).
func appendNSEC3WildcardProof(resp *Response, zone *Zone, encloser *Domain) {
	wc, err := NameFromString("*." + encloser.Name)
	if err != nil {
		return
	}
	hash := nsec3Hash(zone, wc.String())
	idx := nsec3.FindCover(zone.NSEC3.SortedHashes, hash)
	nsec3AppendByHash(resp, zone, hash, idx)
}

// closestEncloserName re-derives the closest encloser as a Name
// (Zone.Lookup already computed this once; NSEC3 proof construction
// needs the label count of the boundary itself, not just the domain).
func (z *Zone) closestEncloserName(qname Name) Name {
	z.mu.RLock()
	defer z.mu.RUnlock()
	d := z.closestEncloserLocked(qname)
	n, _ := NameFromString(d.Name)
	return n
}
