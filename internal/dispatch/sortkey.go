package dispatch

import (
	"encoding/binary"
	"hash/fnv"
	"sort"
)

// keyedHash mixes sortKey with an arbitrary byte string into a deterministic
// 64-bit value, used to give every sort below the "same Request consistently
// prefers the same server" property required by invariant 6.
func keyedHash(sortKey uint64, s string) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], sortKey)
	h.Write(buf[:])
	h.Write([]byte(s))
	return h.Sum64()
}

// sortNAPTR orders NAPTR answers by order then preference ascending, using
// sortKey as a stable tie-breaker so repeated resolutions of the same
// Request land on the same record among true ties.
func sortNAPTR(recs []NAPTRRecord, sortKey uint64) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if a.Preference != b.Preference {
			return a.Preference < b.Preference
		}
		return keyedHash(sortKey, a.Replacement) < keyedHash(sortKey, b.Replacement)
	})
}

// sortSRV implements RFC 2782 priority-ascending ordering with a
// weighted selection within each priority band, keyed by sortKey rather
// than true randomness so the same Request consistently prefers the same
// target.
func sortSRV(recs []SRVRecord, sortKey uint64) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		// Weighted tie-break: records with greater weight should sort
		// first more often. Scale the keyed hash down into [0, weight]
		// space and compare; deterministic for a given sortKey.
		wa, wb := uint64(a.Weight)+1, uint64(b.Weight)+1
		sa := keyedHash(sortKey, a.Target) % (wa * wb)
		sb := keyedHash(sortKey, b.Target) % (wa * wb)
		if sa/wb != sb/wa {
			return sa*wb < sb*wa
		}
		return a.Target < b.Target
	})
}

// sortAddr orders resolved A/AAAA records by a deterministic function of
// (answers, sortKey), giving the same Request consistent affinity for the
// same resolved address among otherwise-equivalent records.
func sortAddr(recs []AddrRecord, sortKey uint64) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		return keyedHash(sortKey, a.IP.String()+"/"+a.Owner) < keyedHash(sortKey, b.IP.String()+"/"+b.Owner)
	})
}
