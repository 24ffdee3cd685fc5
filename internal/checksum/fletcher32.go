package checksum

// Fletcher32 computes the Fletcher-32 checksum of data, as required by
// the cell-store block header (the format fixes this algorithm; it is
// not one of the RocksDB-compatible Type values above, which is why it
// lives in its own function rather than as a Type variant).
//
// Reference: Fletcher's original 1982 checksum, the 16-bit-word variant
// (sum each pair of bytes as a little-endian uint16, modulo 65535).
func Fletcher32(data []byte) uint32 {
	var sum1, sum2 uint32 = 0, 0
	n := len(data)
	i := 0
	for i < n {
		// Process in chunks to defer the expensive modulo, same trick
		// used by optimized Adler-32/Fletcher implementations.
		chunk := n - i
		if chunk > 359*2 {
			chunk = 359 * 2
		}
		end := i + chunk
		for i < end {
			var word uint32
			if i+1 < n {
				word = uint32(data[i]) | uint32(data[i+1])<<8
				i += 2
			} else {
				word = uint32(data[i])
				i++
			}
			sum1 += word
			sum2 += sum1
		}
		sum1 %= 65535
		sum2 %= 65535
	}
	return (sum2 << 16) | sum1
}
