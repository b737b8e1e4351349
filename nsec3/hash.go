/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package nsec3 computes NSEC3 owner hashes and the cover/match
// relation used by the query engine's denial-of-existence proofs.
// It is kept as a sibling package, as SPEC_FULL.md lays out, so the
// iterated-hash and base32 machinery stay off the hot exact-match
// query path in the root package.
package nsec3

import (
	"crypto/sha1"
	"strings"

	"github.com/miekg/dns"
)

// Hash computes the RFC 5155 §5 owner hash of name under the given
// NSEC3 parameters, returned as upper-case base32hex (the form NSEC3
// owner labels use on the wire), grounded on NSD's iterated_hash.c:
// iterations+1 rounds of SHA-1 over (input || salt), feeding each
// round's digest back in as the next round's input.
func Hash(name string, iterations uint16, salt []byte) string {
	wire := canonicalWire(name)
	h := sha1.Sum(append(append([]byte{}, wire...), salt...))
	digest := h[:]
	for i := uint16(0); i < iterations; i++ {
		sum := sha1.Sum(append(append([]byte{}, digest...), salt...))
		digest = sum[:]
	}
	return strings.ToUpper(base32hexEncode(digest))
}

// canonicalWire lower-cases name and returns its wire-format bytes,
// matching RFC 5155's requirement that hashing operate on the
// canonical (case-folded) wire form of the owner name.
func canonicalWire(name string) []byte {
	fqdn := dns.Fqdn(strings.ToLower(name))
	wire := make([]byte, len(fqdn)+1)
	n, err := dns.PackDomainName(fqdn, wire, 0, nil, false)
	if err != nil {
		return []byte(fqdn)
	}
	return wire[:n]
}

const base32hexAlphabet = "0123456789abcdefghijklmnopqrstuv"

// base32hexEncode implements RFC 4648 §7 base32hex without padding,
// the encoding NSEC3 owner labels use (as opposed to ordinary base32).
func base32hexEncode(data []byte) string {
	var sb strings.Builder
	var buf uint32
	var bits int
	for _, b := range data {
		buf = buf<<8 | uint32(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			sb.WriteByte(base32hexAlphabet[(buf>>uint(bits))&0x1F])
		}
	}
	if bits > 0 {
		sb.WriteByte(base32hexAlphabet[(buf<<uint(5-bits))&0x1F])
	}
	return sb.String()
}
