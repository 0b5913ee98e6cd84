// Package watermark implements the pure arithmetic of the mailbox's
// per-(topic,author) watermark: the highest sequence number n such that
// every sequence in [0, n] has been observed.
package watermark

// Contiguous returns the highest n such that seqs contains every value in
// [0, n]. ok is false if seqs does not contain 0 — no watermark exists
// until the first sequence number has been observed.
func Contiguous(seqs map[uint64]struct{}) (n uint64, ok bool) {
	if _, has := seqs[0]; !has {
		return 0, false
	}
	w := uint64(0)
	for {
		if _, has := seqs[w+1]; !has {
			break
		}
		w++
	}
	return w, true
}

// Extend advances a watermark past current (or establishes one for the
// first time if !hasCurrent) by repeatedly checking whether the next
// sequence number was part of this call's freshly-stored set or already
// exists in storage via probe. It stops at the first gap.
//
// probe is only ever called for sequence numbers not found in fresh, since
// membership in fresh is known without I/O.
func Extend(current uint64, hasCurrent bool, fresh map[uint64]struct{}, probe func(seq uint64) (bool, error)) (newWatermark uint64, changed bool, err error) {
	var w uint64
	if hasCurrent {
		w = current
	} else {
		// "Before 0": the wraparound sentinel the next check round-trips
		// through so that the very first iteration probes sequence 0.
		w = ^uint64(0)
	}

	advanced := false
	for {
		next := w + 1 // wraps from ^uint64(0) back to 0 on the first iteration
		if _, has := fresh[next]; has {
			w = next
			advanced = true
			continue
		}
		exists, perr := probe(next)
		if perr != nil {
			return current, false, perr
		}
		if !exists {
			break
		}
		w = next
		advanced = true
	}

	if !advanced {
		return current, false, nil
	}
	return w, true, nil
}
