/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package difflog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/miekg/dns"
)

func TestWriteReadPartRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello ixfr payload")
	if err := WritePart(&buf, IxfrPart, payload); err != nil {
		t.Fatalf("WritePart: %v", err)
	}

	tag, got, err := ReadPart(&buf)
	if err != nil {
		t.Fatalf("ReadPart: %v", err)
	}
	if tag != IxfrPart {
		t.Errorf("tag = %d, want %d", tag, IxfrPart)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestReadPartDetectsTrailerMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePart(&buf, CommitPart, []byte("abc")); err != nil {
		t.Fatalf("WritePart: %v", err)
	}
	raw := buf.Bytes()
	// Corrupt the trailing length sentinel.
	raw[len(raw)-1] ^= 0xff

	if _, _, err := ReadPart(bytes.NewReader(raw)); err == nil {
		t.Fatal("ReadPart: expected trailer mismatch error, got nil")
	}
}

func TestCommitRecordRoundTrip(t *testing.T) {
	c := CommitRecord{
		ZoneName:  "example.com.",
		NewSerial: 2026073001,
		Committed: true,
		LogMsg:    "ixfr from 2026073000 to 2026073001",
	}
	payload := EncodeCommitPart(c)

	got, err := DecodeCommitPart(payload)
	if err != nil {
		t.Fatalf("DecodeCommitPart: %v", err)
	}
	if got != c {
		t.Errorf("DecodeCommitPart round trip = %+v, want %+v", got, c)
	}
}

func TestDecodeCommitPartTruncated(t *testing.T) {
	c := CommitRecord{ZoneName: "example.com.", NewSerial: 1, Committed: true, LogMsg: "x"}
	payload := EncodeCommitPart(c)

	if _, err := DecodeCommitPart(payload[:len(payload)-3]); err == nil {
		t.Fatal("DecodeCommitPart: expected error on truncated payload, got nil")
	}
}

func TestSnipGarbageDiscardsTornWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "example.com.diff.log")

	var good bytes.Buffer
	if err := WritePart(&good, IxfrPart, []byte("part one")); err != nil {
		t.Fatalf("WritePart: %v", err)
	}
	if err := WritePart(&good, CommitPart, []byte("part two")); err != nil {
		t.Fatalf("WritePart: %v", err)
	}
	goodLen := good.Len()

	// Simulate a crash mid-write: append a truncated third frame's header
	// plus a few bytes of payload, no trailer.
	torn := append(good.Bytes(), []byte{0, 0, 0, 1, 0, 0, 0, 10, 'x', 'x'}...)
	if err := os.WriteFile(path, torn, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	kept, err := SnipGarbage(path)
	if err != nil {
		t.Fatalf("SnipGarbage: %v", err)
	}
	if kept != int64(goodLen) {
		t.Errorf("SnipGarbage kept %d bytes, want %d", kept, goodLen)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, good.Bytes()) {
		t.Errorf("file after snip = %v, want %v", data, good.Bytes())
	}
}

func TestSnapshotRoundTripAndCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.db")

	payload := []byte("arbitrary zone snapshot bytes")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := WriteSnapshot(f, payload); err != nil {
		f.Close()
		t.Fatalf("WriteSnapshot: %v", err)
	}
	f.Close()

	got, err := VerifySnapshot(path)
	if err != nil {
		t.Fatalf("VerifySnapshot: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("VerifySnapshot payload = %q, want %q", got, payload)
	}

	// Flip a byte in the payload region and confirm the CRC check fires.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := VerifySnapshot(path); err == nil {
		t.Fatal("VerifySnapshot: expected CRC mismatch error, got nil")
	}
}

// fakeZone is a minimal ZoneMutator recording the operations Apply drives,
// standing in for *authdns.Zone without importing the root package (which
// itself imports difflog).
type fakeZone struct {
	added   []dns.RR
	removed []dns.RR
	serial  uint32
	reset   bool
}

func (z *fakeZone) AddRR(rr dns.RR)       { z.added = append(z.added, rr) }
func (z *fakeZone) RemoveRR(rr dns.RR)    { z.removed = append(z.removed, rr) }
func (z *fakeZone) SetSerial(s uint32)    { z.serial = s }
func (z *fakeZone) Serial() uint32        { return z.serial }
func (z *fakeZone) DeleteAllRRs()         { z.reset = true }

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("dns.NewRR(%q): %v", s, err)
	}
	return rr
}

func TestApplyIxfrDiffSequence(t *testing.T) {
	oldSOA := mustRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 100 3600 600 86400 3600")
	newSOA := mustRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 101 3600 600 86400 3600")
	removed := mustRR(t, "old.example.com. 3600 IN A 192.0.2.1")
	added := mustRR(t, "new.example.com. 3600 IN A 192.0.2.2")

	msg := new(dns.Msg)
	msg.Answer = []dns.RR{
		newSOA,
		oldSOA, removed,
		newSOA, added,
		newSOA,
	}

	var buf bytes.Buffer
	packed, err := EncodeIxfrPart(msg)
	if err != nil {
		t.Fatalf("EncodeIxfrPart: %v", err)
	}
	if err := WritePart(&buf, IxfrPart, packed); err != nil {
		t.Fatalf("WritePart: %v", err)
	}
	commit := CommitRecord{ZoneName: "example.com.", NewSerial: 101, Committed: true, LogMsg: "test"}
	if err := WritePart(&buf, CommitPart, EncodeCommitPart(commit)); err != nil {
		t.Fatalf("WritePart: %v", err)
	}

	zone := &fakeZone{}
	applied, err := Apply(&buf, zone)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
	if zone.serial != 101 {
		t.Errorf("zone.serial = %d, want 101", zone.serial)
	}
	if len(zone.removed) != 1 || !dns.IsDuplicate(zone.removed[0], removed) {
		t.Errorf("zone.removed = %v, want [%v]", zone.removed, removed)
	}
	if len(zone.added) != 1 || !dns.IsDuplicate(zone.added[0], added) {
		t.Errorf("zone.added = %v, want [%v]", zone.added, added)
	}
}

func TestApplySkipsUncommittedPart(t *testing.T) {
	msg := new(dns.Msg)
	soa := mustRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 5 3600 600 86400 3600")
	msg.Answer = []dns.RR{soa}

	packed, err := EncodeIxfrPart(msg)
	if err != nil {
		t.Fatalf("EncodeIxfrPart: %v", err)
	}

	var buf bytes.Buffer
	if err := WritePart(&buf, IxfrPart, packed); err != nil {
		t.Fatalf("WritePart: %v", err)
	}
	commit := CommitRecord{ZoneName: "example.com.", NewSerial: 5, Committed: false}
	if err := WritePart(&buf, CommitPart, EncodeCommitPart(commit)); err != nil {
		t.Fatalf("WritePart: %v", err)
	}

	zone := &fakeZone{}
	applied, err := Apply(&buf, zone)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0 for an uncommitted part", applied)
	}
	if zone.serial != 0 {
		t.Errorf("zone.serial = %d, want 0 (untouched)", zone.serial)
	}
}
