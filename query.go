/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package authdns

import (
	"github.com/miekg/dns"
)

// Request is the decoded inbound message the query engine acts on
// (§4.4.1's parse output: qname, qtype, qclass, EDNS/TSIG state).
type Request struct {
	ID       uint16
	QName    Name
	QType    uint16
	QClass   uint16
	RD, CD   bool
	DO       bool
	HasEDNS  bool
	PayloadSize int
	ACL      ACLRequest
}

// Response is what the query engine hands to the encoder: an RCODE
// plus the five ordered RR lists named in §5 ("Ordering").
type Response struct {
	Rcode           int
	AA              bool
	Answer          []dns.RR
	Authority       []dns.RR
	AdditionalA     []dns.RR
	AdditionalAAAA  []dns.RR
	AdditionalOther []dns.RR
}

func refuse() (*Response, error)  { return &Response{Rcode: dns.RcodeRefused}, nil }
func servfail() (*Response, error) { return &Response{Rcode: dns.RcodeServerFailure}, nil }
func notimp() (*Response, error)  { return &Response{Rcode: dns.RcodeNotImplemented}, nil }

// maxCnameFollow is the resolved open question of §9: subsequent
// CNAME hops neither change RCODE nor add authority records.
const maxCnameFollow = 1

// Resolve implements §4.4.2 onward: it selects the authoritative
// zone, applies the per-zone ACL, and resolves qname against it,
// producing referral, authoritative, wildcard, or negative answers as
// the data dictates. It never mutates the zone and never blocks.
func Resolve(reg *Registry, req Request) (*Response, error) {
	zone, ok := reg.FindAuthoritativeZone(req.QName)
	if !ok {
		return servfail()
	}

	if !zone.Check(ACLQuery, req.ACL) {
		return refuse()
	}

	return resolveInZone(zone, reg, req, req.QName, req.QType, 0)
}

func resolveInZone(zone *Zone, reg *Registry, req Request, qname Name, qtype uint16, cnameHops int) (*Response, error) {
	lr := zone.Lookup(qname)

	delegDomain, delegRRset, hasDeleg := zone.FindEnclosingRRset(qname, dns.TypeNS)
	isDelegation := hasDeleg && delegDomain.Name != zone.ApexName

	// DS-at-cut special case (§4.4.2): answered authoritatively from
	// the parent side.
	if isDelegation && lr.Exact && qtype == dns.TypeDS && lr.ClosestMatch.Name == qname.String() {
		if parent, ok := reg.FindAuthoritativeZone(qname.StripLeft(1)); ok && parent != zone {
			return resolveInZone(parent, reg, req, qname, qtype, cnameHops)
		}
		resp := &Response{Rcode: dns.RcodeSuccess, AA: true}
		appendNegativeSOA(resp, zone, lr.ClosestMatch, req.DO)
		return resp, nil
	}

	if isDelegation {
		return referral(zone, req, delegRRset)
	}

	return authoritativeAnswer(zone, reg, req, qname, qtype, lr, cnameHops)
}

// referral builds a §4.4.3 response: AA clear, delegation NS in
// Authority, optional DS/NSEC under DO, additional glue for the NS
// targets.
func referral(zone *Zone, req Request, ns RRset) (*Response, error) {
	resp := &Response{Rcode: dns.RcodeSuccess, AA: false}
	resp.Authority = append(resp.Authority, ns.RRs...)
	if req.DO && zone.IsSecure {
		resp.Authority = append(resp.Authority, ns.RRSIGs...)
		appendDelegationDenial(resp, zone, ns)
	}
	collateAdditional(zone, resp, ns.RRs, req.DO)
	return resp, nil
}

// appendDelegationDenial adds the DS RRset at the delegation point if
// present, else the NSEC/NSEC3 proving no DS exists (§4.4.3).
func appendDelegationDenial(resp *Response, zone *Zone, ns RRset) {
	d, ok := zone.GetDomain(ns.Name)
	if !ok {
		return
	}
	if ds, ok := zone.FindRRset(d, dns.TypeDS); ok {
		resp.Authority = append(resp.Authority, ds.RRs...)
		resp.Authority = append(resp.Authority, ds.RRSIGs...)
		return
	}
	appendDenialProof(resp, zone, mustName(ns.Name))
}

// authoritativeAnswer implements §4.4.4 in its entirety: exact match
// (including ANY and CNAME-follow), NODATA, wildcard synthesis, and
// NXDOMAIN.
func authoritativeAnswer(zone *Zone, reg *Registry, req Request, qname Name, qtype uint16, lr LookupResult, cnameHops int) (*Response, error) {
	resp := &Response{Rcode: dns.RcodeSuccess, AA: true}

	if lr.Exact {
		if qtype == dns.TypeANY {
			for _, t := range lr.ClosestMatch.RRtypes.Keys() {
				rrset, _ := lr.ClosestMatch.RRtypes.Get(t)
				appendRRsetSigned(resp, &resp.Answer, rrset, req.DO && zone.IsSecure && t != dns.TypeRRSIG)
			}
			return resp, nil
		}

		if rrset, ok := zone.FindRRset(lr.ClosestMatch, qtype); ok {
			appendRRsetSigned(resp, &resp.Answer, rrset, req.DO && zone.IsSecure)
			if qtype == dns.TypeSOA && qname.String() == zone.ApexName {
				if ns, ok := zone.FindRRset(zone.Domains[0], dns.TypeNS); ok {
					resp.Authority = append(resp.Authority, ns.RRs...)
					collateAdditional(zone, resp, ns.RRs, req.DO)
				}
			}
			return resp, nil
		}

		if cname, ok := zone.FindRRset(lr.ClosestMatch, dns.TypeCNAME); ok && qtype != dns.TypeCNAME {
			resp.Answer = append(resp.Answer, cname.RRs...)
			if req.DO && zone.IsSecure {
				resp.Answer = append(resp.Answer, cname.RRSIGs...)
			}
			if cnameHops >= maxCnameFollow {
				return resp, nil
			}
			target := mustName(cname.RRs[0].(*dns.CNAME).Target)
			if !IsSubdomain(target, mustName(zone.ApexName)) {
				return resp, nil
			}
			next, err := resolveInZone(zone, reg, req, target, qtype, cnameHops+1)
			if err != nil {
				return resp, err
			}
			resp.Answer = append(resp.Answer, next.Answer...)
			return resp, nil
		}

		// NODATA: name exists, type does not.
		appendNegativeSOA(resp, zone, lr.ClosestMatch, req.DO)
		if req.DO {
			appendDenialProof(resp, zone, qname)
		}
		return resp, nil
	}

	// No exact match: try wildcard synthesis at the closest encloser.
	if lr.ClosestEncloser != nil && lr.ClosestEncloser.WildcardChild >= 0 {
		wcDomain := zone.Domains[lr.ClosestEncloser.WildcardChild]
		if rrset, ok := zone.FindRRset(wcDomain, qtype); ok {
			synth := RRset{Name: qname.String(), RRtype: rrset.RRtype, RRs: cloneRRsWithOwner(rrset.RRs, qname.String()), RRSIGs: rrset.RRSIGs}
			appendRRsetSigned(resp, &resp.Answer, synth, req.DO && zone.IsSecure)
			if req.DO {
				appendDenialProof(resp, zone, qname)
				appendWildcardDenial(resp, zone, lr.ClosestEncloser)
			}
			return resp, nil
		}
	}

	// NXDOMAIN: no exact match, no usable wildcard.
	resp.Rcode = dns.RcodeNameError
	appendNegativeSOA(resp, zone, lr.ClosestMatch, req.DO)
	if req.DO {
		appendDenialProof(resp, zone, qname)
		appendWildcardNonexistence(resp, zone, lr.ClosestEncloser)
	}
	return resp, nil
}

func cloneRRsWithOwner(rrs []dns.RR, owner string) []dns.RR {
	out := make([]dns.RR, len(rrs))
	for i, rr := range rrs {
		cp := dns.Copy(rr)
		cp.Header().Name = owner
		out[i] = cp
	}
	return out
}

func appendRRsetSigned(resp *Response, dst *[]dns.RR, rrset RRset, sign bool) {
	*dst = append(*dst, rrset.RRs...)
	if sign {
		*dst = append(*dst, rrset.RRSIGs...)
	}
}

// appendNegativeSOA adds the zone's negative-SOA clone (TTL clamped
// to MINIMUM) to Authority, as required by every NODATA/NXDOMAIN path.
func appendNegativeSOA(resp *Response, zone *Zone, matched *Domain, do bool) {
	resp.Authority = append(resp.Authority, zone.NegSOA.RRs...)
	if do && zone.IsSecure {
		resp.Authority = append(resp.Authority, zone.NegSOA.RRSIGs...)
	}
}

// collateAdditional implements §4.4.5: for NS/MB/MX/KX/RT rdata name
// targets, append A/AAAA (and for RT, X25/ISDN) RRsets; glue is
// included only for NS targets. Targets are looked up by exact name
// only: a target that exists only through a wildcard adds nothing.
func collateAdditional(zone *Zone, resp *Response, rrs []dns.RR, do bool) {
	seen := make(map[string]bool)
	for _, rr := range rrs {
		var target string
		isNS := false
		switch v := rr.(type) {
		case *dns.NS:
			target, isNS = v.Ns, true
		case *dns.MB:
			target = v.Mb
		case *dns.MX:
			target = v.Mx
		case *dns.KX:
			target = v.Exchanger
		case *dns.RT:
			target = v.Host
		default:
			continue
		}
		if target == "" || seen[target] {
			continue
		}
		seen[target] = true

		tname, err := NameFromString(target)
		if err != nil {
			continue
		}
		if !isNS && zone.IsGlue(tname) {
			continue
		}
		d, ok := zone.GetDomain(target)
		if !ok {
			continue
		}
		if a, ok := zone.FindRRset(d, dns.TypeA); ok {
			appendRRsetSigned(resp, &resp.AdditionalA, a, do && zone.IsSecure)
		}
		if aaaa, ok := zone.FindRRset(d, dns.TypeAAAA); ok {
			appendRRsetSigned(resp, &resp.AdditionalAAAA, aaaa, do && zone.IsSecure)
		}
		if _, isRT := rr.(*dns.RT); isRT {
			for _, t := range []uint16{dns.TypeX25, dns.TypeISDN} {
				if other, ok := zone.FindRRset(d, t); ok {
					appendRRsetSigned(resp, &resp.AdditionalOther, other, do && zone.IsSecure)
				}
			}
		}
	}
}

func mustName(s string) Name {
	n, _ := NameFromString(s)
	return n
}
