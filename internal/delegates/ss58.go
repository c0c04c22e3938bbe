package delegates

import (
	"bytes"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto/blake2b"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var (
	ss58Prefix  = []byte("SS58PRE")
	base58Index = func() [256]int {
		var idx [256]int
		for i := range idx {
			idx[i] = -1
		}
		for i := 0; i < len(base58Alphabet); i++ {
			idx[base58Alphabet[i]] = i
		}
		return idx
	}()
)

// IsHotkey reports whether v is a well-formed SS58 account address carrying
// a 32-byte public key and a valid checksum.
func IsHotkey(v string) bool {
	if len(v) < 46 || len(v) > 50 {
		return false
	}
	raw, ok := decodeBase58(v)
	if !ok || len(raw) < 35 {
		return false
	}

	prefixLen := 1
	if raw[0]&0x40 != 0 {
		prefixLen = 2
	}
	if len(raw) != prefixLen+32+2 {
		return false
	}

	body := raw[:len(raw)-2]
	sum := blake2b.Sum512(append(append([]byte{}, ss58Prefix...), body...))
	return bytes.Equal(sum[:2], raw[len(raw)-2:])
}

func decodeBase58(v string) ([]byte, bool) {
	n := new(big.Int)
	radix := big.NewInt(58)
	for i := 0; i < len(v); i++ {
		d := base58Index[v[i]]
		if d < 0 {
			return nil, false
		}
		n.Mul(n, radix)
		n.Add(n, big.NewInt(int64(d)))
	}
	zeros := len(v) - len(strings.TrimLeft(v, "1"))
	return append(make([]byte, zeros), n.Bytes()...), true
}

// shortHotkey renders a hotkey as 5E2LP6…eZ5u.
func shortHotkey(v string) string {
	if len(v) <= 12 {
		return v
	}
	return v[:6] + "…" + v[len(v)-4:]
}
