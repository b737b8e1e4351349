/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package authdns

import (
	"encoding/binary"
	"fmt"

	"github.com/miekg/dns"
)

// maxCompressionOffset is the 14-bit ceiling a compression pointer can
// address (§4.5.2); names whose wire position falls beyond this are
// simply never recorded and are always emitted in full thereafter.
const maxCompressionOffset = 16383

// Section identifies which of the three counted RR sections an RRset is
// being written into, governing both ordering (§5, "Ordering") and
// the truncation behaviour on overflow (§4.5.1).
type Section int

const (
	SectionAnswer Section = iota
	SectionAuthority
	SectionAdditional
)

// Encoder serialises answer lists into DNS wire format with bounded
// buffer capacity, per-response name compression, and RRset-grained
// truncation rollback (§4.5). One Encoder is used per query; nothing
// is shared across queries (§9, "singleton global → per-query context").
type Encoder struct {
	buf      []byte
	capacity int

	compress      map[string]int
	compressOrder []string

	ancount, nscount, arcount int
	truncatedAnswer           bool
	truncatedAuthority        bool
}

// NewEncoder allocates an encoder whose wire output will never exceed
// capacity bytes (the negotiated EDNS payload on UDP, 65535 on TCP).
func NewEncoder(capacity int) *Encoder {
	return &Encoder{
		buf:      make([]byte, 12, capacity),
		capacity: capacity,
		compress: make(map[string]int),
	}
}

// bufferGuard is the scoped-buffer-guard design note of §9: a value
// that, on Rollback, restores the buffer cursor and un-records any
// compression-table entries added since it was taken. On Commit it is
// a no-op observer.
type bufferGuard struct {
	enc        *Encoder
	savedLen   int
	savedOrder int
}

func (e *Encoder) guard() bufferGuard {
	return bufferGuard{enc: e, savedLen: len(e.buf), savedOrder: len(e.compressOrder)}
}

func (g bufferGuard) commit() {}

func (g bufferGuard) rollback() {
	e := g.enc
	e.buf = e.buf[:g.savedLen]
	for _, name := range e.compressOrder[g.savedOrder:] {
		delete(e.compress, name)
	}
	e.compressOrder = e.compressOrder[:g.savedOrder]
}

// writeName emits n, compressing against the per-response table when
// compressible is true. Returns false (buffer unmodified beyond what
// the caller rolls back) if n does not fit in the remaining capacity.
func (e *Encoder) writeName(n Name, compressible bool) bool {
	lc := n.LabelCount()
	for i := 0; i <= lc; i++ {
		suffix := n.StripLeft(i)
		key := suffix.String()

		if compressible {
			if off, ok := e.compress[key]; ok {
				if len(e.buf)+2 > e.capacity {
					return false
				}
				ptr := uint16(0xC000 | off)
				e.buf = append(e.buf, byte(ptr>>8), byte(ptr))
				return true
			}
		}

		if suffix.LabelCount() == 0 {
			if len(e.buf)+1 > e.capacity {
				return false
			}
			e.buf = append(e.buf, 0x00)
			return true
		}

		lbl := suffix.LabelAt(0)
		if len(e.buf)+len(lbl) > e.capacity {
			return false
		}
		if compressible && len(e.buf) <= maxCompressionOffset {
			e.compress[key] = len(e.buf)
			e.compressOrder = append(e.compressOrder, key)
		}
		e.buf = append(e.buf, lbl...)
	}
	return true
}

func (e *Encoder) writeRaw(b []byte) bool {
	if len(e.buf)+len(b) > e.capacity {
		return false
	}
	e.buf = append(e.buf, b...)
	return true
}

func (e *Encoder) writeRdataName(target string, compress bool) bool {
	n, err := NameFromString(target)
	if err != nil {
		return false
	}
	return e.writeName(n, compress)
}

// writeRdata emits rr's rdata. Legacy types whose names may be
// compressed (§4.2) are special-cased so their embedded names can
// participate in the shared compression table; everything else is
// emitted as the RR's uncompressed wire rdata, which is correct both
// for types that forbid compression (RFC 3597 §4, DNSSEC types) and
// for types with no embedded name at all.
func (e *Encoder) writeRdata(rr dns.RR) bool {
	switch v := rr.(type) {
	case *dns.NS:
		return e.writeRdataName(v.Ns, true)
	case *dns.CNAME:
		return e.writeRdataName(v.Target, true)
	case *dns.PTR:
		return e.writeRdataName(v.Ptr, true)
	case *dns.MB:
		return e.writeRdataName(v.Mb, true)
	case *dns.MG:
		return e.writeRdataName(v.Mg, true)
	case *dns.MR:
		return e.writeRdataName(v.Mr, true)
	case *dns.MD:
		return e.writeRdataName(v.Md, true)
	case *dns.MF:
		return e.writeRdataName(v.Mf, true)
	case *dns.SOA:
		if !e.writeRdataName(v.Ns, true) {
			return false
		}
		if !e.writeRdataName(v.Mbox, true) {
			return false
		}
		var tail [20]byte
		binary.BigEndian.PutUint32(tail[0:4], v.Serial)
		binary.BigEndian.PutUint32(tail[4:8], v.Refresh)
		binary.BigEndian.PutUint32(tail[8:12], v.Retry)
		binary.BigEndian.PutUint32(tail[12:16], v.Expire)
		binary.BigEndian.PutUint32(tail[16:20], v.Minttl)
		return e.writeRaw(tail[:])
	case *dns.MINFO:
		if !e.writeRdataName(v.Rmail, true) {
			return false
		}
		return e.writeRdataName(v.Email, true)
	case *dns.MX:
		var pref [2]byte
		binary.BigEndian.PutUint16(pref[:], v.Preference)
		if !e.writeRaw(pref[:]) {
			return false
		}
		return e.writeRdataName(v.Mx, true)
	default:
		raw, err := rawUncompressedRdata(rr)
		if err != nil {
			return false
		}
		return e.writeRaw(raw)
	}
}

// rawUncompressedRdata extracts rr's rdata bytes exactly as miekg/dns
// would encode them with compression disabled, by packing rr alone in
// a throwaway message and slicing off the fixed-size prefix (12-byte
// header + root owner name + 10-byte type/class/ttl/rdlength). This
// lets the encoder lean on the library's per-type rdata marshalling
// for the long tail of RR types without reimplementing each one.
func rawUncompressedRdata(rr dns.RR) ([]byte, error) {
	cp := dns.Copy(rr)
	cp.Header().Name = "."
	cp.Header().Rrtype = rr.Header().Rrtype
	m := new(dns.Msg)
	m.Compress = false
	m.Answer = []dns.RR{cp}
	buf, err := m.Pack()
	if err != nil {
		return nil, err
	}
	const prefix = 12 + 1 + 10
	if len(buf) < prefix {
		return nil, fmt.Errorf("rawUncompressedRdata: packed RR shorter than fixed prefix")
	}
	return buf[prefix:], nil
}

// TryWriteRR attempts to append rr in full (owner, type, class, ttl,
// rdlength, rdata). On failure the buffer and compression table are
// restored to their pre-call state and false is returned, signalling
// the caller (TryWriteRRset) to apply the §4.5.1 truncation rule.
func (e *Encoder) TryWriteRR(rr dns.RR) bool {
	g := e.guard()

	owner, err := NameFromString(rr.Header().Name)
	if err != nil {
		g.rollback()
		return false
	}
	// Owner names are always compressible; only embedded rdata names
	// are subject to the per-type restriction in writeRdata.
	if !e.writeName(owner, true) {
		g.rollback()
		return false
	}

	var hdr [10]byte
	binary.BigEndian.PutUint16(hdr[0:2], rr.Header().Rrtype)
	binary.BigEndian.PutUint16(hdr[2:4], rr.Header().Class)
	binary.BigEndian.PutUint32(hdr[4:8], rr.Header().Ttl)
	if !e.writeRaw(hdr[:]) {
		g.rollback()
		return false
	}
	rdStart := len(e.buf)

	if !e.writeRdata(rr) {
		g.rollback()
		return false
	}
	rdlen := len(e.buf) - rdStart
	if rdlen > 0xFFFF {
		g.rollback()
		return false
	}
	binary.BigEndian.PutUint16(e.buf[rdStart-2:rdStart], uint16(rdlen))

	g.commit()
	return true
}

// TryWriteRRset writes every RR of rrset into section. If any RR does
// not fit, the whole RRset is rolled back atomically (§4.5.1: "the
// failed RRset is... never partially included"). In Answer/Authority
// this also sets the section's truncation flag and stops further
// emission into that section; in Additional the RRset is simply
// skipped and emission continues.
func (e *Encoder) TryWriteRRset(section Section, rrs []dns.RR) bool {
	if section == SectionAnswer && e.truncatedAnswer {
		return false
	}
	if section == SectionAuthority && e.truncatedAuthority {
		return false
	}

	g := e.guard()
	count := 0
	for _, rr := range rrs {
		if !e.TryWriteRR(rr) {
			g.rollback()
			switch section {
			case SectionAnswer:
				e.truncatedAnswer = true
			case SectionAuthority:
				e.truncatedAuthority = true
			}
			return false
		}
		count++
	}
	g.commit()
	switch section {
	case SectionAnswer:
		e.ancount += count
	case SectionAuthority:
		e.nscount += count
	case SectionAdditional:
		e.arcount += count
	}
	return true
}

// Truncated reports whether either Answer or Authority overflowed.
func (e *Encoder) Truncated() bool { return e.truncatedAnswer || e.truncatedAuthority }

// Finalize writes the 12-byte DNS header (§4.5.3) given the
// already-decided RCODE and flags, and returns the complete wire
// message. qdcount is always 0 or 1 in this server (§4.4.1).
func (e *Encoder) Finalize(id uint16, qr, aa, rd, cd, ra bool, rcode int, qdcount int) []byte {
	var flags uint16
	if qr {
		flags |= 1 << 15
	}
	flags |= uint16(0) << 11 // opcode always QUERY on a response we build
	if aa {
		flags |= 1 << 10
	}
	if e.Truncated() {
		flags |= 1 << 9
	}
	if rd {
		flags |= 1 << 8
	}
	if ra {
		flags |= 1 << 7
	}
	if cd {
		flags |= 1 << 4
	}
	flags |= uint16(rcode & 0x0F)

	binary.BigEndian.PutUint16(e.buf[0:2], id)
	binary.BigEndian.PutUint16(e.buf[2:4], flags)
	binary.BigEndian.PutUint16(e.buf[4:6], uint16(qdcount))
	binary.BigEndian.PutUint16(e.buf[6:8], uint16(e.ancount))
	binary.BigEndian.PutUint16(e.buf[8:10], uint16(e.nscount))
	binary.BigEndian.PutUint16(e.buf[10:12], uint16(e.arcount))
	return e.buf
}

// WriteQuestion appends the single question-section entry. It is
// always attempted before any answer content and is never rolled
// back: a question too large to fit at all is a FORMAT-layer concern,
// not a truncation one.
func (e *Encoder) WriteQuestion(qname Name, qtype, qclass uint16) bool {
	if !e.writeName(qname, true) {
		return false
	}
	var tail [4]byte
	binary.BigEndian.PutUint16(tail[0:2], qtype)
	binary.BigEndian.PutUint16(tail[2:4], qclass)
	return e.writeRaw(tail[:])
}
