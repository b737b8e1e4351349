/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package authdns

import "github.com/miekg/dns"

// AtomKind distinguishes the two rdata atom shapes named in the data
// model: a domain reference that may be compressed on the wire, and
// an opaque byte slice that never is.
type AtomKind uint8

const (
	AtomBytes AtomKind = iota
	AtomName
)

// Atom is one typed rdata element. Kind AtomName carries a parsed Name
// so the encoder can compression-reference it; Kind AtomBytes carries
// already-encoded wire bytes (numbers, addresses, opaque blobs) copied
// verbatim.
type Atom struct {
	Kind       AtomKind
	Name       Name
	Bytes      []byte
	Compress   bool // only meaningful when Kind == AtomName
}

// typeDescriptor is the static, per-RR-type entry in the descriptor
// table referenced throughout §4.2: which rdata positions are domain
// names, and whether those names may be wire-compressed.
type typeDescriptor struct {
	// NameFields lists, in rdata order, which field index holds an
	// embedded name; Compress says whether that particular name may
	// be compressed. Types absent from this table are treated as
	// RFC 3597 opaque: no embedded names, never compressed.
	NameFields []nameField
}

type nameField struct {
	Index    int
	Compress bool
}

// typeDescriptors mirrors NSD's rdata.h descriptor table for the RR
// types this server needs to compression-aware-encode. RFC 3597 §4
// forbids compression for DNSSEC and most "modern" RR types (their
// name fields, where present, are uncompressed); legacy types such as
// NS/CNAME/SOA/MX/PTR/MB use compressed names for wire-size economy.
var typeDescriptors = map[uint16]typeDescriptor{
	dns.TypeNS:    {NameFields: []nameField{{0, true}}},
	dns.TypeMD:    {NameFields: []nameField{{0, true}}},
	dns.TypeMF:    {NameFields: []nameField{{0, true}}},
	dns.TypeCNAME: {NameFields: []nameField{{0, true}}},
	dns.TypeSOA:   {NameFields: []nameField{{0, true}, {1, true}}},
	dns.TypeMB:    {NameFields: []nameField{{0, true}}},
	dns.TypeMG:    {NameFields: []nameField{{0, true}}},
	dns.TypeMR:    {NameFields: []nameField{{0, true}}},
	dns.TypePTR:   {NameFields: []nameField{{0, true}}},
	dns.TypeMINFO: {NameFields: []nameField{{0, true}, {1, true}}},
	dns.TypeMX:    {NameFields: []nameField{{1, true}}},
	dns.TypeRT:    {NameFields: []nameField{{1, false}}},
	dns.TypeKX:    {NameFields: []nameField{{1, false}}},
	dns.TypeSRV:   {NameFields: []nameField{{3, false}}},
	dns.TypeNAPTR: {NameFields: []nameField{{5, false}}},
	dns.TypeRRSIG: {NameFields: []nameField{{7, false}}},
	dns.TypeNSEC:  {NameFields: []nameField{{0, false}}},
	dns.TypeDNAME: {NameFields: []nameField{{0, false}}},
}

// descriptorFor returns the descriptor for rrtype, or the zero value
// (no embedded names, RFC 3597-opaque) if the type is unknown to this
// table.
func descriptorFor(rrtype uint16) typeDescriptor {
	return typeDescriptors[rrtype]
}

// IsUncompressedNameType reports whether rrtype is required by RFC
// 3597 §4 (or the original RFC defining the type) to never compress
// its embedded names. Unknown types fall here too, trivially, since
// they carry no structured names at all.
func IsUncompressedNameType(rrtype uint16) bool {
	d, ok := typeDescriptors[rrtype]
	if !ok {
		return true
	}
	for _, f := range d.NameFields {
		if f.Compress {
			return false
		}
	}
	return true
}

// GenericAtom renders an RFC 3597 unknown-type RR's rdata as a single
// opaque byte atom, exactly as NSD's pzl/rrtypes.c fallback path does
// for any type absent from its table.
func GenericAtom(rdata []byte) Atom {
	return Atom{Kind: AtomBytes, Bytes: rdata}
}
