/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package authdns

const (
	DefaultServerCfgFile = "/etc/authdns/authdns.yaml"
	DefaultZonesCfgFile  = "/etc/authdns/zones.yaml"
	DefaultCliCfgFile    = "/etc/authdns/authdogctl.yaml"

	// DefaultMaxUDPSize is the EDNS0 payload ceiling (§4.4.1) used
	// when a server config does not set dnsengine.maxudpsize.
	DefaultMaxUDPSize = 4096
)
