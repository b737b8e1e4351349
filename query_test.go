/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package authdns

import (
	"testing"

	"github.com/miekg/dns"
)

// TestResolveWildcardSynthesisThroughEmptyNonTerminal is spec.md §8
// Scenario 3: a wildcard one label below an owner name that itself
// carries no RRset (w.example. has no RRs of its own, only its child
// *.w.example.) must still synthesize for a.w.example., which
// requires w.example. to exist as an empty non-terminal domain so
// closestEncloserLocked finds it instead of skipping to the apex.
func TestResolveWildcardSynthesisThroughEmptyNonTerminal(t *testing.T) {
	z := NewZone("example.")
	z.AddRR(mustTestRR(t, "example. 3600 IN SOA ns1.example. hostmaster.example. 1 3600 600 86400 3600"))
	z.AddRR(mustTestRR(t, "example. 3600 IN NS ns1.example."))
	z.AddRR(mustTestRR(t, "*.w.example. 3600 IN A 10.0.0.1"))

	reg := NewRegistry()
	reg.Set(z)

	qname, err := NameFromString("a.w.example.")
	if err != nil {
		t.Fatalf("NameFromString: %v", err)
	}

	resp, err := Resolve(reg, Request{
		QName:  qname,
		QType:  dns.TypeA,
		QClass: dns.ClassINET,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		t.Fatalf("Rcode = %d, want RcodeSuccess", resp.Rcode)
	}
	if !resp.AA {
		t.Errorf("AA = false, want true")
	}
	if len(resp.Answer) != 1 {
		t.Fatalf("Answer = %v, want exactly 1 RR", resp.Answer)
	}
	a, ok := resp.Answer[0].(*dns.A)
	if !ok {
		t.Fatalf("Answer[0] = %T, want *dns.A", resp.Answer[0])
	}
	if a.Hdr.Name != "a.w.example." {
		t.Errorf("synthesized owner = %q, want %q (wildcard owner rewritten to qname)", a.Hdr.Name, "a.w.example.")
	}
	if a.A.String() != "10.0.0.1" {
		t.Errorf("synthesized A = %v, want 10.0.0.1", a.A)
	}

	// The empty non-terminal itself must not be directly answerable.
	wname, err := NameFromString("w.example.")
	if err != nil {
		t.Fatalf("NameFromString: %v", err)
	}
	entResp, err := Resolve(reg, Request{QName: wname, QType: dns.TypeA, QClass: dns.ClassINET})
	if err != nil {
		t.Fatalf("Resolve(w.example.): %v", err)
	}
	if entResp.Rcode != dns.RcodeSuccess || len(entResp.Answer) != 0 {
		t.Errorf("Resolve(w.example.) = rcode %d, answer %v, want NOERROR/NODATA", entResp.Rcode, entResp.Answer)
	}
}
