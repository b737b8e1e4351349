/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package authdns

import (
	"testing"

	"github.com/miekg/dns"
)

func mustTestRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("dns.NewRR(%q): %v", s, err)
	}
	return rr
}

func TestZoneAddRRUpdatesSOAAndSerial(t *testing.T) {
	z := NewZone("example.com.")
	soa := mustTestRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 42 3600 600 86400 3600")
	z.AddRR(soa)

	if got := z.SOASerial(); got != 42 {
		t.Errorf("SOASerial() = %d, want 42", got)
	}
	if len(z.SOA.RRs) != 1 {
		t.Fatalf("z.SOA.RRs = %v, want 1 element", z.SOA.RRs)
	}
	if len(z.NegSOA.RRs) != 1 {
		t.Fatalf("z.NegSOA.RRs = %v, want 1 element", z.NegSOA.RRs)
	}
	if negSOA, ok := z.NegSOA.RRs[0].(*dns.SOA); !ok || negSOA.Ttl != 3600 {
		t.Errorf("NegSOA TTL = %v, want clamped to MINTTL 3600", z.NegSOA.RRs[0])
	}
}

func TestZoneAddRRApexNS(t *testing.T) {
	z := NewZone("example.com.")
	ns := mustTestRR(t, "example.com. 3600 IN NS ns1.example.com.")
	z.AddRR(ns)

	if len(z.ApexNS.RRs) != 1 {
		t.Fatalf("z.ApexNS.RRs = %v, want 1 element", z.ApexNS.RRs)
	}
}

func TestZoneSetSerialUpdatesCachedSOA(t *testing.T) {
	z := NewZone("example.com.")
	soa := mustTestRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 1 3600 600 86400 3600")
	z.AddRR(soa)

	z.SetSerial(2)
	if got := z.SOASerial(); got != 2 {
		t.Errorf("SOASerial() after SetSerial = %d, want 2", got)
	}
	if got := z.SOA.RRs[0].(*dns.SOA).Serial; got != 2 {
		t.Errorf("cached SOA RR serial = %d, want 2", got)
	}
}

func TestZoneRemoveRRDropsEmptyRRtype(t *testing.T) {
	z := NewZone("example.com.")
	a1 := mustTestRR(t, "www.example.com. 3600 IN A 192.0.2.1")
	z.AddRR(a1)

	d, ok := z.GetDomain("www.example.com.")
	if !ok {
		t.Fatal("GetDomain(www.example.com.) not found after AddRR")
	}
	if !d.IsExisting {
		t.Fatal("www.example.com. should be existing after AddRR")
	}

	z.RemoveRR(a1)
	if _, ok := d.RRtypes.Get(dns.TypeA); ok {
		t.Error("RRtypes still has TypeA entry after removing the only A record")
	}
	if d.IsExisting {
		t.Error("www.example.com. should stop existing once its last RRset is removed and it has no descendant")
	}
}

// TestZoneRemoveRREmptyNonTerminalStaysExisting mirrors NSD's difffile.c
// delete_RR: removing an RRset at a name that still has an existing child
// must NOT clear IsExisting, since the name remains a (now-empty)
// non-terminal in the owner tree and its NSEC chain position still matters.
func TestZoneRemoveRREmptyNonTerminalStaysExisting(t *testing.T) {
	z := NewZone("example.com.")
	parent := mustTestRR(t, "sub.example.com. 3600 IN TXT \"placeholder\"")
	child := mustTestRR(t, "host.sub.example.com. 3600 IN A 192.0.2.1")
	z.AddRR(parent)
	z.AddRR(child)

	d, ok := z.GetDomain("sub.example.com.")
	if !ok {
		t.Fatal("GetDomain(sub.example.com.) not found after AddRR")
	}

	z.RemoveRR(parent)

	if !d.IsExisting {
		t.Error("sub.example.com. should remain existing: it has an existing descendant host.sub.example.com.")
	}
	if d.RRtypes.Count() != 0 {
		t.Errorf("sub.example.com. RRtypes.Count() = %d, want 0 (its only RRset was removed)", d.RRtypes.Count())
	}
}

func TestZoneDeleteAllRRsResetsToApexOnly(t *testing.T) {
	z := NewZone("example.com.")
	z.AddRR(mustTestRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 1 3600 600 86400 3600"))
	z.AddRR(mustTestRR(t, "www.example.com. 3600 IN A 192.0.2.1"))

	if len(z.Domains) != 2 {
		t.Fatalf("len(z.Domains) before reset = %d, want 2", len(z.Domains))
	}

	z.DeleteAllRRs()

	if len(z.Domains) != 1 {
		t.Errorf("len(z.Domains) after DeleteAllRRs = %d, want 1 (apex only)", len(z.Domains))
	}
	if _, ok := z.GetDomain("www.example.com."); ok {
		t.Error("www.example.com. should be gone after DeleteAllRRs")
	}
	if len(z.SOA.RRs) != 0 {
		t.Error("z.SOA should be cleared after DeleteAllRRs")
	}
}

func TestZoneAddRRRSIGAttachesToCoveredRRset(t *testing.T) {
	z := NewZone("example.com.")
	a := mustTestRR(t, "www.example.com. 3600 IN A 192.0.2.1")
	z.AddRR(a)

	sig := mustTestRR(t, "www.example.com. 3600 IN RRSIG A 8 3 3600 20300101000000 20260101000000 12345 example.com. c2lnbmF0dXJl")
	z.AddRR(sig)

	d, _ := z.GetDomain("www.example.com.")
	rrset, ok := d.RRtypes.Get(dns.TypeA)
	if !ok {
		t.Fatal("expected TypeA RRset to exist")
	}
	if len(rrset.RRSIGs) != 1 {
		t.Errorf("len(rrset.RRSIGs) = %d, want 1", len(rrset.RRSIGs))
	}
}

// TestZoneAddRRCreatesEmptyNonTerminalAncestors is the §3.2/§3.4
// invariant directly: inserting a name several labels below the apex
// must leave every intermediate ancestor behind as an existing (but
// RRset-less) domain, not just the exact owner name.
func TestZoneAddRRCreatesEmptyNonTerminalAncestors(t *testing.T) {
	z := NewZone("example.com.")
	z.AddRR(mustTestRR(t, "host.deep.sub.example.com. 3600 IN A 192.0.2.1"))

	for _, name := range []string{"sub.example.com.", "deep.sub.example.com."} {
		d, ok := z.GetDomain(name)
		if !ok {
			t.Fatalf("GetDomain(%q) not found; empty non-terminal ancestor was never created", name)
		}
		if !d.IsExisting {
			t.Errorf("%q.IsExisting = false, want true (empty non-terminal)", name)
		}
		if d.RRtypes.Count() != 0 {
			t.Errorf("%q has %d RRtypes, want 0 (it owns no RRset of its own)", name, d.RRtypes.Count())
		}
	}
}

// TestZoneWildcardLinksOnFirstInsert guards the ordering bug where
// maybeLinkWildcard ran before the wildcard's parent ancestor existed:
// inserting *.w.example.com. as the very first RR under w.example.com.
// must still wire w.example.com.'s WildcardChild, since ensureAncestorsLocked
// must create the parent before maybeLinkWildcard looks it up.
func TestZoneWildcardLinksOnFirstInsert(t *testing.T) {
	z := NewZone("example.com.")
	z.AddRR(mustTestRR(t, "*.w.example.com. 3600 IN A 10.0.0.1"))

	parent, ok := z.GetDomain("w.example.com.")
	if !ok {
		t.Fatal("GetDomain(w.example.com.) not found")
	}
	if parent.WildcardChild < 0 {
		t.Error("w.example.com..WildcardChild not wired after inserting *.w.example.com. as the first RR")
	}
}
