package cache

// Key packs a unit id and track number into one comparable value, per
// spec.md §6: "(unit_id << 9) | (track << 1)". The low bit is reserved for
// HD-pair use (spec.md §9 "Signed key encoding"); trackdev never sets it
// since HD tracks are never cached (spec.md §4.2).
type Key uint32

// NewKey builds the cache key for (unitID, track). unitID is capped at
// 2^23-1 by the 9-bit shift, matching spec.md §6.
func NewKey(unitID uint32, track int) Key {
	return Key(unitID<<9) | Key(uint32(track)<<1)
}
