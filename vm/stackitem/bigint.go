package stackitem

import "math/big"

// BigIntToBytes renders v as the minimal little-endian two's-complement form
// used on the stack and on the wire.
func BigIntToBytes(v *big.Int) []byte {
	if v.Sign() == 0 {
		return []byte{}
	}
	if v.Sign() > 0 {
		b := reverse(v.Bytes())
		// A set high bit would read back as negative; pad one zero byte.
		if b[len(b)-1]&0x80 != 0 {
			b = append(b, 0)
		}
		return b
	}
	// abs(v) - 1, inverted, is the two's complement magnitude.
	abs := new(big.Int).Neg(v)
	abs.Sub(abs, big.NewInt(1))
	b := reverse(abs.Bytes())
	if len(b) == 0 {
		b = []byte{0}
	}
	for i := range b {
		b[i] = ^b[i]
	}
	// A clear high bit would read back as positive; pad a sign byte.
	if b[len(b)-1]&0x80 == 0 {
		b = append(b, 0xFF)
	}
	return b
}

// BigIntFromBytes reads a little-endian two's-complement integer.
func BigIntFromBytes(b []byte) *big.Int {
	if len(b) == 0 {
		return new(big.Int)
	}
	negative := b[len(b)-1]&0x80 != 0
	be := reverse(append([]byte(nil), b...))
	v := new(big.Int).SetBytes(be)
	if negative {
		// v currently holds the unsigned reading; subtract 2^(8n).
		shift := new(big.Int).Lsh(big.NewInt(1), uint(8*len(b)))
		v.Sub(v, shift)
	}
	return v
}

func reverse(b []byte) []byte {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}
