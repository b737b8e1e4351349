/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package authdns

import (
	"log"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/authdns/authdns/edns0"
)

// wellKnownCH are the CHAOS-class identity names a server answers
// regardless of zone configuration (§4.4.1).
var wellKnownCH = map[string]bool{
	"id.server.":      true,
	"hostname.bind.":  true,
	"version.server.": true,
	"version.bind.":   true,
}

// Handler dispatches decoded DNS messages against reg, encoding
// responses with Encoder the way the teacher's createAuthDnsHandler
// dispatches by opcode, but narrowed to this server's scope: no
// recursion, no DNS UPDATE, no multi-signer NOTIFY relay.
type Handler struct {
	Registry   *Registry
	Stats      *Stats
	CHReplies  map[string]string // e.g. "id.server." -> "authdns"
	MaxUDPSize uint16            // server-configured EDNS0 payload ceiling (§4.4.1)
}

func NewHandler(reg *Registry, stats *Stats, maxUDPSize uint16) *Handler {
	if maxUDPSize == 0 {
		maxUDPSize = DefaultMaxUDPSize
	}
	return &Handler{Registry: reg, Stats: stats, CHReplies: make(map[string]string), MaxUDPSize: maxUDPSize}
}

// ServeDNS implements dns.Handler.
func (h *Handler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	if r.Response || len(r.Question) != 1 || r.Truncated {
		h.writeError(w, r, dns.RcodeFormatError)
		return
	}
	req := r.Question[0]

	switch r.Opcode {
	case dns.OpcodeNotify:
		log.Printf("Handler: NOTIFY for %s from %s (not acted on; outbound NOTIFY is an operator-driven CLI action)",
			req.Name, w.RemoteAddr())
		h.writeError(w, r, dns.RcodeNotImplemented)
		return
	case dns.OpcodeUpdate:
		h.writeError(w, r, dns.RcodeNotImplemented)
		return
	case dns.OpcodeQuery:
		// fall through
	default:
		h.writeError(w, r, dns.RcodeNotImplemented)
		return
	}

	if req.Qclass == dns.ClassCHAOS {
		h.serveChaos(w, r, req)
		return
	}
	if req.Qclass != dns.ClassINET {
		h.writeError(w, r, dns.RcodeNotImplemented)
		return
	}

	qname, err := NameFromString(req.Name)
	if err != nil {
		h.writeError(w, r, dns.RcodeFormatError)
		return
	}

	if r.IsTsig() != nil {
		if err := w.TsigStatus(); err != nil {
			h.Stats.TSIGErrors.Add(1)
			h.writeErrorEDE(w, r, dns.RcodeNotAuth, edns0.EDETsigValidationFailure)
			return
		}
	}

	aclReq := aclRequestFromWriter(w, r)
	payload := edns0PayloadSize(r, h.MaxUDPSize)
	if _, isTCP := w.RemoteAddr().(*net.TCPAddr); isTCP {
		payload = dns.MaxMsgSize
	}

	opts, err := edns0.ExtractFlagsAndEDNS0Options(r)
	if err != nil {
		h.writeError(w, r, dns.RcodeFormatError)
		return
	}

	if req.Qtype == dns.TypeAXFR || req.Qtype == dns.TypeIXFR {
		h.serveTransfer(w, r, qname, req.Qtype, aclReq)
		return
	}

	resp, err := Resolve(h.Registry, Request{
		ID:          r.Id,
		QName:       qname,
		QType:       req.Qtype,
		QClass:      req.Qclass,
		RD:          r.RecursionDesired,
		CD:          r.CheckingDisabled,
		DO:          opts.DO,
		HasEDNS:     r.IsEdns0() != nil,
		PayloadSize: payload,
		ACL:         aclReq,
	})
	if err != nil || resp == nil {
		h.writeError(w, r, dns.RcodeServerFailure)
		return
	}
	h.Stats.RecordQuery(req.Qclass, req.Qtype, resp.AA, r.IsEdns0() != nil)
	h.Stats.RecordRcode(resp.Rcode)

	h.writeResponse(w, r, qname, req.Qtype, req.Qclass, payload, resp)
}

// serveTransfer handles AXFR/IXFR requests (§4.4.8/§4.4.9), gated by
// the zone's provide_xfr ACL.
func (h *Handler) serveTransfer(w dns.ResponseWriter, r *dns.Msg, qname Name, qtype uint16, aclReq ACLRequest) {
	zone, ok := h.Registry.FindAuthoritativeZone(qname)
	if !ok {
		h.writeErrorEDE(w, r, dns.RcodeRefused, edns0.EDEZoneNotFound)
		return
	}
	if !zone.Check(ACLProvideXfr, aclReq) {
		h.writeError(w, r, dns.RcodeRefused)
		return
	}

	if qtype == dns.TypeAXFR {
		if _, err := ServeAXFR(zone, w, r); err != nil {
			log.Printf("Handler: AXFR of %s failed: %v", zone.ApexName, err)
		}
		return
	}

	fromSerial := uint32(0)
	if len(r.Ns) > 0 {
		if soa, ok := r.Ns[0].(*dns.SOA); ok {
			fromSerial = soa.Serial
		}
	}
	if _, err := ServeIXFR(zone, h.Stats, fromSerial, w, r); err != nil {
		log.Printf("Handler: IXFR of %s failed: %v", zone.ApexName, err)
	}
}

func (h *Handler) serveChaos(w dns.ResponseWriter, r *dns.Msg, q dns.Question) {
	name := strings.ToLower(q.Name)
	val, known := h.CHReplies[name]
	if !known || !wellKnownCH[name] || q.Qtype != dns.TypeTXT {
		h.writeError(w, r, dns.RcodeRefused)
		return
	}
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true
	m.Answer = []dns.RR{&dns.TXT{
		Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTXT, Class: dns.ClassCHAOS, Ttl: 0},
		Txt: []string{val},
	}}
	w.WriteMsg(m)
}

func (h *Handler) writeError(w dns.ResponseWriter, r *dns.Msg, rcode int) {
	m := new(dns.Msg)
	m.SetRcode(r, rcode)
	w.WriteMsg(m)
}

// writeErrorEDE is writeError plus an Extended DNS Error option (RFC 8914)
// carrying edeCode, attached only when the querier signaled EDNS0 support.
func (h *Handler) writeErrorEDE(w dns.ResponseWriter, r *dns.Msg, rcode int, edeCode uint16) {
	m := new(dns.Msg)
	m.SetRcode(r, rcode)
	if r.IsEdns0() != nil {
		edns0.AttachEDEToResponse(m, edeCode)
	}
	w.WriteMsg(m)
}

// writeResponse encodes resp through Encoder (§4.5) rather than
// miekg/dns's own Msg.Pack, since the encoder is what implements this
// server's compression and truncation-rollback rules.
func (h *Handler) writeResponse(w dns.ResponseWriter, r *dns.Msg, qname Name, qtype, qclass uint16, payload int, resp *Response) {
	enc := NewEncoder(payload)
	enc.WriteQuestion(qname, qtype, qclass)

	enc.TryWriteRRset(SectionAnswer, resp.Answer)
	enc.TryWriteRRset(SectionAuthority, resp.Authority)
	enc.TryWriteRRset(SectionAdditional, resp.AdditionalA)
	enc.TryWriteRRset(SectionAdditional, resp.AdditionalAAAA)
	enc.TryWriteRRset(SectionAdditional, resp.AdditionalOther)

	if enc.Truncated() {
		h.Stats.Truncated.Add(1)
	}
	raw := enc.Finalize(r.Id, true, resp.AA, r.RecursionDesired, r.CheckingDisabled, false, resp.Rcode, 1)
	if _, err := w.Write(raw); err != nil {
		log.Printf("Handler: write error to %s: %v", w.RemoteAddr(), err)
	}
}

// edns0PayloadSize computes the response size budget (§4.4.1): a
// client-requested UDP size below dns.MinMsgSize is raised to it (§8:
// "EDNS payload ≤ 512: treated as 512"), and the result is then capped
// at min(client_requested, ceiling), where ceiling is the server's
// configured maxudpsize.
func edns0PayloadSize(r *dns.Msg, ceiling uint16) int {
	sz := dns.MinMsgSize
	if opt := r.IsEdns0(); opt != nil {
		if requested := int(opt.UDPSize()); requested > dns.MinMsgSize {
			sz = requested
		}
	}
	if c := int(ceiling); c > 0 && sz > c {
		sz = c
	}
	if sz > dns.MaxMsgSize {
		sz = dns.MaxMsgSize
	}
	return sz
}

func aclRequestFromWriter(w dns.ResponseWriter, r *dns.Msg) ACLRequest {
	var ip net.IP
	if addr := w.RemoteAddr(); addr != nil {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			ip = net.ParseIP(host)
		}
	}
	req := ACLRequest{Addr: ip}
	if tsig := r.IsTsig(); tsig != nil {
		req.TSIGKey = strings.ToLower(tsig.Hdr.Name)
	}
	return req
}
