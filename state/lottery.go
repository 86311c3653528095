package state

import (
	"math/big"

	"go.dedis.ch/kyber/v4/suites"
	"go.dedis.ch/kyber/v4/util/random"
)

// Source yields lottery draws uniformly distributed in [0, 1).
type Source interface {
	Float64() float64
}

var suite suites.Suite = suites.MustFind("Ed25519")

// lotteryBits is the precision of a draw; 53 bits fit a float64 mantissa
// exactly, so every draw is representable without rounding.
const lotteryBits = 53

var lotteryMax = new(big.Int).Lsh(big.NewInt(1), lotteryBits)

// CryptoSource draws lottery values from the suite's random stream.
// It is the default Source.
type CryptoSource struct{}

func (CryptoSource) Float64() float64 {
	n := random.Int(lotteryMax, suite.RandomStream())
	return float64(n.Int64()) / (1 << lotteryBits)
}
