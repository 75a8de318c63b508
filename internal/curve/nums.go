package curve

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"
)

// numsCache memoizes J_i by index — generation is deterministic but not
// free, and the same indices (0..2 by default, wider under configuration)
// get looked up repeatedly across a process's lifetime.
var (
	numsCacheMu sync.Mutex
	numsCache   = map[int]Point{}
)

// NUMSPoint returns J_i, the nothing-up-my-sleeve alternate generator for
// retry index i, per the deterministic construction in spec.md §4.1:
//
//	for G_encoded in [compressed(G), uncompressed(G)]:
//	    for counter in [0..255]:
//	        x = SHA256(G_encoded || byte(i) || byte(counter))
//	        candidate = 0x02 || x
//	        if on_curve(candidate): return candidate
//
// The outer loop over both G encodings and the inner counter loop must run
// in exactly this order: the result is network-visible, and any other
// traversal order would produce a different J_i for indices where the first
// encoding fails to ever land on an x-coordinate that is also the x of a
// valid curve point within 256 tries (astronomically unlikely, but the order
// is still part of the contract).
func NUMSPoint(i int) (Point, error) {
	if i < 0 || i > 255 {
		return Point{}, fmt.Errorf("nums point index %d out of range [0,255]", i)
	}

	numsCacheMu.Lock()
	if pt, ok := numsCache[i]; ok {
		numsCacheMu.Unlock()
		return pt, nil
	}
	numsCacheMu.Unlock()

	g := G()
	encodings := [][]byte{g.Serialize(), g.SerializeUncompressed()}

	for _, enc := range encodings {
		for counter := 0; counter <= 255; counter++ {
			h := sha256.New()
			h.Write(enc)
			h.Write([]byte{byte(i)})
			h.Write([]byte{byte(counter)})
			x := h.Sum(nil)

			pt, ok := liftX(new(big.Int).SetBytes(x))
			if !ok {
				continue
			}

			numsCacheMu.Lock()
			numsCache[i] = pt
			numsCacheMu.Unlock()
			return pt, nil
		}
	}

	return Point{}, fmt.Errorf("nums point index %d: no candidate found in 512 tries", i)
}
