/*
 * Copyright (c) 2025 Johan Stenstam, johan.stenstam@internetstiftelsen.se
 */
package edns0

// EDNS0_ER_OPTION_CODE is the local option code carrying the RFC9567
// DNS Error Reporting agent domain.
const EDNS0_ER_OPTION_CODE = 65003
