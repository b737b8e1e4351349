/*
 * Copyright (c) 2025 Johan Stenstam, johan.stenstam@internetstiftelsen.se
 */
package edns0

import (
	"github.com/miekg/dns"
)

// MsgOptions is a struct that contains the EDNS0 options from a message PLUS the traditional DNS flags RD, CD,
type MsgOptions struct {
	RD            bool
	CD            bool
	DO            bool
	CO            bool // RFC 9824: Compact Ok bit (bit 14 in OPT header TTL)
	HasEROption   bool   // True if ER option is present
	ErAgentDomain string // RFC9567: DNS Error Reporting agent domain
}

type EDNS0Option struct {
	Code uint16
	Data []byte
}

func ExtractFlagsAndEDNS0Options(r *dns.Msg) (*MsgOptions, error) {
	msgoptions := &MsgOptions{}
	msgoptions.CD = r.MsgHdr.CheckingDisabled
	msgoptions.RD = r.MsgHdr.RecursionDesired

	opt := r.IsEdns0()
	if opt == nil {
		return msgoptions, nil
	}

	// Extract DO bit (DNSSEC OK) - bit 15
	msgoptions.DO = opt.Do()

	// Extract CO bit (Compact Ok) - bit 14 (RFC 9824)
	msgoptions.CO = (opt.Hdr.Ttl & (1 << 14)) != 0

	// Loop once through all EDNS0 options and extract them based on their code
	for _, option := range opt.Option {
		if localOpt, ok := option.(*dns.EDNS0_LOCAL); ok {
			switch localOpt.Code {
			case EDNS0_ER_OPTION_CODE:
				// Extract ER option (domain name in DNS wire format)
				if len(localOpt.Data) > 0 {
					domain, _, err := dns.UnpackDomainName(localOpt.Data, 0)
					if err == nil && domain != "" {
						msgoptions.ErAgentDomain = domain
						msgoptions.HasEROption = true
					}
				}
			}
		}
	}

	return msgoptions, nil
}
