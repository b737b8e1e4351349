/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package difflog implements the on-disk differential-update log
// (spec.md §4.6): an append-only sequence of framed parts recording
// raw IXFR response messages and the commit markers that close them
// out, the snip_garbage truncation NSD's difffile.c performs on a
// torn write, and the CRC/magic reconciliation used to detect a
// snapshot replaced out from under a running server.
package difflog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"

	"github.com/miekg/dns"

	"github.com/authdns/authdns/ixfr"
)

// PartTag identifies a framed record in the diff log (§4.6.1).
type PartTag uint32

const (
	IxfrPart   PartTag = 1
	CommitPart PartTag = 2
)

// frameOverhead is the tag (4) + length (4) + trailing length (4)
// surrounding every part's payload.
const frameOverhead = 12

// WritePart appends one framed record: a 4-byte tag, a 4-byte
// big-endian payload length, the payload, and a trailing copy of the
// length so a reader (or SnipGarbage) can confirm the frame is
// complete without holding file-wide state.
func WritePart(w io.Writer, tag PartTag, payload []byte) error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(tag))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], uint32(len(payload)))
	_, err := w.Write(trailer[:])
	return err
}

// ReadPart reads one framed record, verifying the trailing length
// matches the header. Returns io.EOF cleanly at a part boundary.
func ReadPart(r io.Reader) (PartTag, []byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	tag := PartTag(binary.BigEndian.Uint32(hdr[0:4]))
	length := binary.BigEndian.Uint32(hdr[4:8])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("difflog: short payload: %w", err)
	}

	var trailer [4]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return 0, nil, fmt.Errorf("difflog: short trailer: %w", err)
	}
	if binary.BigEndian.Uint32(trailer[:]) != length {
		return 0, nil, fmt.Errorf("difflog: trailer length %d does not match header length %d",
			binary.BigEndian.Uint32(trailer[:]), length)
	}
	return tag, payload, nil
}

// SnipGarbage scans path's framed parts from the start and truncates
// the file to the end of the last complete, well-formed part,
// discarding any trailing torn write (§4.6.1, "the log may be
// snipped", supplemented with NSD's difffile.c ftruncate behaviour).
// Returns the number of bytes kept.
func SnipGarbage(path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset int64
	for {
		_, payload, err := ReadPart(r)
		if err != nil {
			break
		}
		offset += frameOverhead + int64(len(payload))
	}
	if err := f.Truncate(offset); err != nil {
		return 0, fmt.Errorf("difflog: truncating to %d: %w", offset, err)
	}
	return offset, nil
}

// EncodeIxfrPart packs msg as an IXFR_PART payload: the raw wire
// bytes of the IXFR (or AXFR) response message exactly as it came off
// the wire, per §4.6.1 ("payload is a single raw IXFR response
// message").
func EncodeIxfrPart(msg *dns.Msg) ([]byte, error) {
	return msg.Pack()
}

// DecodeIxfrPart unpacks an IXFR_PART payload back into a *dns.Msg.
func DecodeIxfrPart(payload []byte) (*dns.Msg, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(payload); err != nil {
		return nil, fmt.Errorf("difflog: malformed IXFR_PART payload: %w", err)
	}
	return msg, nil
}

// CommitRecord is the decoded COMMIT_PART payload (§4.6.1): the zone
// the preceding IXFR_PART applies to, the serial it commits to, and
// whether the write completed (a transfer that was aborted mid-way
// writes committed=false so the apply pass skips it).
type CommitRecord struct {
	ZoneName  string
	NewSerial uint32
	Committed bool
	LogMsg    string
}

// EncodeCommitPart serialises c as: u32 zone_name_len, zone_name
// bytes, u32 new_serial, u8 committed_flag, u32 log_msg_len, log_msg
// bytes — exactly the layout spec.md §4.6.1 gives for COMMIT_PART.
func EncodeCommitPart(c CommitRecord) []byte {
	name := []byte(c.ZoneName)
	msg := []byte(c.LogMsg)
	buf := make([]byte, 0, 4+len(name)+4+1+4+len(msg))

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(name)))
	buf = append(buf, u32[:]...)
	buf = append(buf, name...)

	binary.BigEndian.PutUint32(u32[:], c.NewSerial)
	buf = append(buf, u32[:]...)

	if c.Committed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	binary.BigEndian.PutUint32(u32[:], uint32(len(msg)))
	buf = append(buf, u32[:]...)
	buf = append(buf, msg...)
	return buf
}

// DecodeCommitPart parses a COMMIT_PART payload written by
// EncodeCommitPart.
func DecodeCommitPart(payload []byte) (CommitRecord, error) {
	var c CommitRecord
	p := payload

	nameLen, p, err := takeU32(p)
	if err != nil {
		return c, err
	}
	name, p, err := takeBytes(p, nameLen)
	if err != nil {
		return c, err
	}
	c.ZoneName = string(name)

	newSerial, p, err := takeU32(p)
	if err != nil {
		return c, err
	}
	c.NewSerial = newSerial

	flag, p, err := takeBytes(p, 1)
	if err != nil {
		return c, err
	}
	c.Committed = flag[0] != 0

	msgLen, p, err := takeU32(p)
	if err != nil {
		return c, err
	}
	msg, _, err := takeBytes(p, msgLen)
	if err != nil {
		return c, err
	}
	c.LogMsg = string(msg)
	return c, nil
}

func takeU32(p []byte) (uint32, []byte, error) {
	if len(p) < 4 {
		return 0, nil, fmt.Errorf("difflog: COMMIT_PART truncated reading a uint32")
	}
	return binary.BigEndian.Uint32(p[:4]), p[4:], nil
}

func takeBytes(p []byte, n uint32) ([]byte, []byte, error) {
	if uint32(len(p)) < n {
		return nil, nil, fmt.Errorf("difflog: COMMIT_PART truncated reading %d bytes", n)
	}
	return p[:n], p[n:], nil
}

// ZoneMutator is the minimal surface Apply needs from a zone database,
// kept as an interface so this package never imports the root package
// (the root package imports difflog, so the reverse would cycle).
type ZoneMutator interface {
	AddRR(rr dns.RR)
	RemoveRR(rr dns.RR)
	SetSerial(serial uint32)
	Serial() uint32
	DeleteAllRRs()
}

// Apply replays every committed IXFR_PART/COMMIT_PART pair from r
// against zone, in order (§4.6.2). An IXFR_PART not followed by a
// COMMIT_PART with committed=true is discarded rather than applied,
// matching a transfer that was interrupted before its commit record
// was written.
func Apply(r io.Reader, zone ZoneMutator) (applied int, err error) {
	return ApplyWithFallbackHook(r, zone, nil)
}

// ApplyWithFallbackHook is Apply, plus onAxfrFallback invoked once per
// replayed IXFR_PART whose payload turns out to hold a full AXFR
// rather than an incremental diff sequence (the primary fell back to
// AXFR when it logged the part, §4.6.2) — the caller's hook into
// ixfr.IxfrFromResponse's same-named parameter, so a supplemented
// fallback counter (e.g. Stats.StatIxfrFallbackToAxfr) gets credited
// on difflog replay the same way ServeIXFR credits it on the serving
// side.
func ApplyWithFallbackHook(r io.Reader, zone ZoneMutator, onAxfrFallback func()) (applied int, err error) {
	var pending *dns.Msg

	for {
		tag, payload, rerr := ReadPart(r)
		if rerr == io.EOF {
			return applied, nil
		}
		if rerr != nil {
			return applied, rerr
		}

		switch tag {
		case IxfrPart:
			msg, derr := DecodeIxfrPart(payload)
			if derr != nil {
				return applied, derr
			}
			pending = msg

		case CommitPart:
			commit, derr := DecodeCommitPart(payload)
			if derr != nil {
				return applied, derr
			}
			if !commit.Committed || pending == nil {
				log.Printf("difflog: skipping uncommitted part for zone %s serial %d",
					commit.ZoneName, commit.NewSerial)
				pending = nil
				continue
			}
			if err := applyMessage(pending, commit, zone, onAxfrFallback); err != nil {
				return applied, err
			}
			applied++
			pending = nil

		default:
			return applied, fmt.Errorf("difflog: unrecognised part tag %d", tag)
		}
	}
}

// applyMessage implements the five numbered steps of §4.6.2 for one
// committed IXFR_PART.
func applyMessage(msg *dns.Msg, commit CommitRecord, zone ZoneMutator, onAxfrFallback func()) error {
	if len(msg.Answer) == 0 {
		return fmt.Errorf("difflog: IXFR_PART for zone %s has an empty answer section", commit.ZoneName)
	}
	firstSOA, ok := msg.Answer[0].(*dns.SOA)
	if !ok {
		return fmt.Errorf("difflog: IXFR_PART for zone %s: first answer RR is not a SOA", commit.ZoneName)
	}
	if firstSOA.Serial != commit.NewSerial {
		return fmt.Errorf("difflog: IXFR_PART for zone %s: first SOA serial %d does not match commit serial %d",
			commit.ZoneName, firstSOA.Serial, commit.NewSerial)
	}

	parsed := ixfr.IxfrFromResponse(msg, onAxfrFallback)

	if parsed.IsAxfr {
		zone.DeleteAllRRs()
		for _, rr := range parsed.AxfrRRs {
			if isPseudoType(rr) {
				continue
			}
			zone.AddRR(rr)
		}
		zone.SetSerial(parsed.FinalSOASerial)
		return nil
	}

	for _, seq := range parsed.DiffSequences {
		for _, rr := range seq.DeletedRecords {
			if isPseudoType(rr) {
				continue
			}
			zone.RemoveRR(rr)
		}
		for _, rr := range seq.AddedRecords {
			if isPseudoType(rr) {
				continue
			}
			zone.AddRR(rr)
		}
	}
	zone.SetSerial(parsed.FinalSOASerial)
	return nil
}

// isPseudoType reports whether rr is a pseudo-record (OPT, TSIG) that
// §4.6.2 step 4 says must be skipped rather than inserted/removed.
func isPseudoType(rr dns.RR) bool {
	t := rr.Header().Rrtype
	return t == dns.TypeOPT || t == dns.TypeTSIG
}

// snapshotMagic is NSD's NAMEDB_MAGIC (namedb.h), reused verbatim as
// the header this server's own snapshot file starts with (§4.6.3).
const snapshotMagic = "NSDdbV07"

// WriteSnapshot writes the magic header, a CRC32 of data, then data
// itself, so a later VerifySnapshot call can detect a snapshot that
// was replaced or corrupted since it was loaded.
func WriteSnapshot(w io.Writer, data []byte) error {
	if _, err := io.WriteString(w, snapshotMagic); err != nil {
		return err
	}
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc32.ChecksumIEEE(data))
	if _, err := w.Write(crcBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// VerifySnapshot reads path's magic bytes, then its recorded CRC32,
// then recomputes the CRC32 over the remaining bytes and compares the
// two — the exact sequence NSD's difffile.c performs (magic compared
// byte-for-byte before the CRC is even read), per §4.6.3. Returns the
// snapshot payload if both checks pass.
func VerifySnapshot(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < len(snapshotMagic)+4 {
		return nil, fmt.Errorf("difflog: snapshot %s too short for header", path)
	}
	if string(data[:len(snapshotMagic)]) != snapshotMagic {
		return nil, fmt.Errorf("difflog: snapshot %s has bad magic %q", path, data[:len(snapshotMagic)])
	}
	off := len(snapshotMagic)
	storedCRC := binary.BigEndian.Uint32(data[off : off+4])
	payload := data[off+4:]
	actualCRC := crc32.ChecksumIEEE(payload)
	if storedCRC != actualCRC {
		return nil, fmt.Errorf("difflog: snapshot %s CRC mismatch: stored %08x, computed %08x",
			path, storedCRC, actualCRC)
	}
	return payload, nil
}
