/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package authdns

import (
	"fmt"
	"net"
	"net/url"
)

// GlobalStuff holds process-wide CLI/daemon flags, mirroring the
// teacher's single mutable Globals value rather than threading a
// context struct through every call site.
type GlobalStuff struct {
	Verbose     bool
	Debug       bool
	Zonename    string
	BaseUri     string
	Port        uint16
	Address     string
	App         AppDetails
	ShowHeaders bool // not bound to any authdogctl flag
}

var Globals = GlobalStuff{
	Verbose: false,
	Debug:   false,
}

func (gs *GlobalStuff) Validate() error {
	if gs.Address != "" {
		if net.ParseIP(gs.Address) == nil {
			return fmt.Errorf("invalid address format: %s", gs.Address)
		}
	}
	if gs.BaseUri != "" {
		if _, err := url.Parse(gs.BaseUri); err != nil {
			return fmt.Errorf("invalid base URI: %s", gs.BaseUri)
		}
	}
	return nil
}
