package cdc

// Ring arithmetic over (size, head, tail) with one reserved slot: a ring
// is full when advancing head would make it equal tail. The receive ring
// passes its current effective length as size, which shrinks after a fold.

// wrap returns idx reduced into [0, size). idx must be less than 2*size.
func wrap(size, idx int) int {
	if idx >= size {
		return idx - size
	}
	return idx
}

// occupiedTotal returns the number of bytes queued in the ring.
func occupiedTotal(size, head, tail int) int {
	if head >= tail {
		return head - tail
	}
	return size + head - tail
}

// freeTotal returns the number of bytes that can still be queued.
func freeTotal(size, head, tail int) int {
	if size == 0 {
		return 0
	}
	return size - occupiedTotal(size, head, tail) - 1
}

// occupiedContig returns the number of queued bytes readable starting at
// tail without wrapping.
func occupiedContig(size, head, tail int) int {
	if head >= tail {
		return head - tail
	}
	return size - tail
}

// freeContig returns the number of bytes writable starting at head without
// wrapping.
func freeContig(size, head, tail int) int {
	if size == 0 {
		return 0
	}
	if head >= tail {
		if tail == 0 {
			return size - 1 - head
		}
		return size - head
	}
	return tail - head - 1
}

// freeAfterFold returns the number of bytes writable at offset 0 if head
// were folded back to the start of the ring now.
func freeAfterFold(size, head, tail int) int {
	if size == 0 || head < tail || tail == 0 {
		return 0
	}
	return tail - 1
}
