/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package nsec3

import "sort"

// FindCover returns the index into sortedHashes (ascending) of the
// NSEC3 record that covers target: the greatest owner hash <= target,
// wrapping around the hash space to the last entry when target sorts
// before everything (§4.4.7; NSD's nsec3_find_cover chooses
// zone->nsec3_last in that case, the "fix" SPEC_FULL.md's open
// question resolves this way). Returns -1 if sortedHashes is empty.
func FindCover(sortedHashes []string, target string) int {
	n := len(sortedHashes)
	if n == 0 {
		return -1
	}
	pos := sort.Search(n, func(i int) bool { return sortedHashes[i] > target })
	if pos == 0 {
		return n - 1
	}
	return pos - 1
}

// FindMatch returns the index of the NSEC3 record whose owner hash
// equals target exactly, or -1 if none does (an exact hash match
// identifies the record as "matching" rather than merely "covering").
func FindMatch(sortedHashes []string, target string) int {
	n := len(sortedHashes)
	pos := sort.Search(n, func(i int) bool { return sortedHashes[i] >= target })
	if pos < n && sortedHashes[pos] == target {
		return pos
	}
	return -1
}
