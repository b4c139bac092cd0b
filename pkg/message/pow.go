package message

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"
)

const ctxCheckInterval = 1 << 12

// IsValid reports whether the record hash carries at least ZeroBits
// leading zero bits
func (r *Record) IsValid() bool {
	h := r.Hash()
	return hasLeadingZeros(h[:], int(r.ZeroBits))
}

func hasLeadingZeros(h []byte, n int) bool {
	if n > len(h)*8 {
		return false
	}

	zeroBytes := n / 8
	for i := 0; i < zeroBytes; i++ {
		if h[i] != 0 {
			return false
		}
	}

	rem := n % 8
	if rem == 0 {
		return true
	}

	return bits.LeadingZeros8(h[zeroBytes]) >= rem
}

// Sign searches the counter space for a value satisfying the declared
// difficulty. The search is split across workers trying disjoint counter
// residues; the first success stops the rest. A signed copy is returned.
func Sign(ctx context.Context, r *Record, workers int) (*Record, error) {
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	if int(r.ZeroBits) > HashSize*8 {
		return nil, ErrSignExhausted
	}

	var (
		found   uint32
		counter uint32
		wg      sync.WaitGroup
	)

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var base [EncodedSize]byte
	r.put(base[:])

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(start uint64) {
			defer wg.Done()

			buf := base
			var n int
			for c := start; c <= math.MaxUint32; c += uint64(workers) {
				if n++; n%ctxCheckInterval == 0 && ctx.Err() != nil {
					return
				}

				binary.BigEndian.PutUint32(buf[offCounter:], uint32(c))
				h := sha256.Sum256(buf[:])
				if hasLeadingZeros(h[:], int(r.ZeroBits)) {
					if atomic.CompareAndSwapUint32(&found, 0, 1) {
						counter = uint32(c)
						cancel()
					}
					return
				}
			}
		}(uint64(w))
	}

	wg.Wait()

	if atomic.LoadUint32(&found) == 0 {
		if err := parent.Err(); err != nil {
			return nil, err
		}
		return nil, ErrSignExhausted
	}

	signed := r.Copy()
	signed.Counter = counter
	return signed, nil
}
