/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package authdns

import (
	"net"
	"strings"
)

// ACLAction enumerates the operations an ACL entry can gate (§6.3).
type ACLAction string

const (
	ACLQuery      ACLAction = "query"
	ACLNotify     ACLAction = "notify"
	ACLProvideXfr ACLAction = "provide_xfr"
	ACLRequestXfr ACLAction = "request_xfr"
)

// ACLVerdict is the outcome of a matched entry.
type ACLVerdict string

const (
	ACLAllow ACLVerdict = "allow"
	ACLDeny  ACLVerdict = "deny"
)

// ACLEntry is one (match, action, verdict) rule (§6.3). Match is
// either an address literal/CIDR, a TSIG key name (prefixed "key:"),
// or empty for a universal match.
type ACLEntry struct {
	Match   string
	Action  ACLAction
	Verdict ACLVerdict
}

// ACLRequest carries the two possible match keys a request can be
// checked against: its source address and, if present, the TSIG key
// name that signed it.
type ACLRequest struct {
	Addr    net.IP
	TSIGKey string
}

// Check evaluates zone's ACL list for action against req. First
// matching entry wins; an empty list allows everything, matching
// §6.3 exactly.
func (z *Zone) Check(action ACLAction, req ACLRequest) bool {
	if len(z.ACL) == 0 {
		return true
	}
	for _, e := range z.ACL {
		if e.Action != action {
			continue
		}
		if aclMatches(e.Match, req) {
			return e.Verdict == ACLAllow
		}
	}
	return true
}

func aclMatches(match string, req ACLRequest) bool {
	if match == "" {
		return true
	}
	if key, ok := strings.CutPrefix(match, "key:"); ok {
		return req.TSIGKey != "" && key == req.TSIGKey
	}
	if req.Addr == nil {
		return false
	}
	if strings.Contains(match, "/") {
		_, ipnet, err := net.ParseCIDR(match)
		if err != nil {
			return false
		}
		return ipnet.Contains(req.Addr)
	}
	ip := net.ParseIP(match)
	return ip != nil && ip.Equal(req.Addr)
}
