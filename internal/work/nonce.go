package work

// Nonce is the 64-bit little-endian value varied by miners. Increment
// wraps modulo 2^64, which is the natural behavior of Go's unsigned
// integer arithmetic.
type Nonce uint64

// Add returns n+delta, wrapping modulo 2^64.
func (n Nonce) Add(delta uint64) Nonce {
	return Nonce(uint64(n) + delta)
}

// Next returns the successor nonce, wrapping modulo 2^64.
func (n Nonce) Next() Nonce {
	return n.Add(1)
}
