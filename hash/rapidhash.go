package hash

import (
	"encoding/binary"

	"lukechampine.com/uint128"
)

// RapidHash is a fast, non-wire-critical content hash ported from the
// teacher's rapidhash.go. Its one use is the secondary index key in the
// logstore mirror (logstore.Entry.RapidKey). It is never used for the
// build log's on-disk command hash (see murmur2.go).
const rapidSeed uint64 = 0xbdd89aa982704029

var rapidSecret = [3]uint64{
	0x2d358dccaa6c78a5,
	0x8bb84b93962eacc9,
	0x4b33a62ed433d4a3,
}

func rapidMum(a, b uint64) (uint64, uint64) {
	p := uint128.From64(a).Mul(uint128.From64(b))
	return p.Lo, p.Hi
}

func rapidMix(a, b uint64) uint64 {
	lo, hi := rapidMum(a, b)
	return lo ^ hi
}

func rapidReadSmall(p []byte, k int) uint64 {
	return uint64(p[0])<<56 | uint64(p[k>>1])<<32 | uint64(p[k-1])
}

// RapidHash hashes key with the default seed.
func RapidHash(key []byte) uint64 {
	return RapidHashWithSeed(key, rapidSeed)
}

// RapidHashWithSeed is RapidHash with an explicit seed, used when
// combining many small hashes (e.g. one per file in a directory) without
// allocating an intermediate buffer.
func RapidHashWithSeed(key []byte, seed uint64) uint64 {
	n := len(key)
	p := key
	seed ^= rapidMix(seed^rapidSecret[0], rapidSecret[1]) ^ uint64(n)

	var a, b uint64
	if n <= 16 {
		switch {
		case n >= 4:
			delta := (n & 24) >> (n >> 3)
			a = uint64(binary.LittleEndian.Uint32(p))<<32 | uint64(binary.LittleEndian.Uint32(p[n-4:]))
			b = uint64(binary.LittleEndian.Uint32(p[delta:]))<<32 | uint64(binary.LittleEndian.Uint32(p[n-4-delta:]))
		case n > 0:
			a = rapidReadSmall(p, n)
		}
	} else {
		i := n
		if i > 48 {
			see1, see2 := seed, seed
			for i >= 48 {
				seed = rapidMix(binary.LittleEndian.Uint64(p)^rapidSecret[0], binary.LittleEndian.Uint64(p[8:])^seed)
				see1 = rapidMix(binary.LittleEndian.Uint64(p[16:])^rapidSecret[1], binary.LittleEndian.Uint64(p[24:])^see1)
				see2 = rapidMix(binary.LittleEndian.Uint64(p[32:])^rapidSecret[2], binary.LittleEndian.Uint64(p[40:])^see2)
				p = p[48:]
				i -= 48
			}
			seed ^= see1 ^ see2
		}
		if i > 16 {
			seed = rapidMix(binary.LittleEndian.Uint64(p)^rapidSecret[2], binary.LittleEndian.Uint64(p[8:])^seed^rapidSecret[1])
			if i > 32 {
				seed = rapidMix(binary.LittleEndian.Uint64(p[16:])^rapidSecret[2], binary.LittleEndian.Uint64(p[24:])^seed)
			}
		}
		a = binary.LittleEndian.Uint64(key[n-16:])
		b = binary.LittleEndian.Uint64(key[n-8:])
	}
	a ^= rapidSecret[1]
	b ^= seed
	lo, hi := rapidMum(a, b)
	return rapidMix(lo^rapidSecret[0]^uint64(n), hi^rapidSecret[1])
}

// RapidHashNodes folds a list of content hashes into one. The fold is
// order-sensitive: the same hashes in a different order give a different
// result.
func RapidHashNodes(hashes []uint64) uint64 {
	acc := rapidSeed
	buf := make([]byte, 8)
	for _, h := range hashes {
		binary.LittleEndian.PutUint64(buf, h)
		acc = rapidMix(acc, RapidHashWithSeed(buf, acc))
	}
	return acc
}
