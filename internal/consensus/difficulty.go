package consensus

import (
	"fmt"
	"math/big"

	"github.com/cobaltchain/cobalt/pkg/block"
	"github.com/cobaltchain/cobalt/pkg/types"
)

// MaxBits is the easiest permitted difficulty, encoding the largest valid
// target. Headers may never be easier than this.
const MaxBits uint32 = 0x207fffff

// Retarget bounds: one adjustment may change the target by at most a
// factor of four in either direction.
const (
	maxAdjustUp   = 4
	maxAdjustDown = 4
)

var (
	bigOne = big.NewInt(1)
	// maxTarget is the target encoded by MaxBits.
	maxTarget = CompactToTarget(MaxBits)
	// oneLsh256 is 2^256, used to convert a target into expected work.
	oneLsh256 = new(big.Int).Lsh(bigOne, 256)
)

// CompactToTarget expands a compact difficulty encoding into the full
// 256-bit target. The compact form packs a target as mantissa × 256^(exp-3)
// with the exponent in the top byte and a 23-bit mantissa below it.
func CompactToTarget(bits uint32) *big.Int {
	mantissa := bits & 0x007fffff
	exponent := uint(bits >> 24)

	target := big.NewInt(int64(mantissa))
	if exponent <= 3 {
		return target.Rsh(target, 8*(3-exponent))
	}
	return target.Lsh(target, 8*(exponent-3))
}

// TargetToCompact packs a target into the compact encoding, rounding down
// to what the mantissa can represent.
func TargetToCompact(target *big.Int) uint32 {
	if target.Sign() <= 0 {
		return 0
	}

	exponent := uint32((target.BitLen() + 7) / 8)
	var mantissa uint32
	if exponent <= 3 {
		mantissa = uint32(target.Uint64() << (8 * (3 - exponent)))
	} else {
		shifted := new(big.Int).Rsh(target, 8*uint(exponent-3))
		mantissa = uint32(shifted.Uint64())
	}

	// Keep the mantissa's top bit clear so the encoding stays unambiguous.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}
	return exponent<<24 | mantissa
}

// HashMeetsTarget reports whether a proof digest satisfies a target.
// The digest is interpreted as a big-endian 256-bit integer.
func HashMeetsTarget(h types.Hash, target *big.Int) bool {
	return new(big.Int).SetBytes(h[:]).Cmp(target) <= 0
}

// WorkForBits returns the expected number of proof attempts a target
// implies: 2^256 / (target + 1). This is the per-block fork-choice weight.
func WorkForBits(bits uint32) *big.Int {
	target := CompactToTarget(bits)
	if target.Sign() <= 0 {
		return new(big.Int)
	}
	denom := new(big.Int).Add(target, bigOne)
	return new(big.Int).Div(oneLsh256, denom)
}

// RetargetConfig parameterizes the difficulty schedule.
type RetargetConfig struct {
	// Interval is how many blocks pass between adjustments.
	Interval uint64
	// TargetSpacing is the intended seconds between blocks.
	TargetSpacing int64
}

// DefaultRetarget adjusts every 10 blocks aiming at 10-second spacing.
var DefaultRetarget = RetargetConfig{Interval: 10, TargetSpacing: 10}

// NextBits computes the difficulty required for the block following parent.
// Off the retarget boundary the parent's bits carry forward. On the
// boundary the target scales by the ratio of actual to expected timespan
// over the last interval, clamped to a factor of four, and never exceeds
// MaxBits. The first header of the closing interval is found by walking
// parent links back from parent, so the schedule is computed against the
// branch actually being extended.
func NextBits(cfg RetargetConfig, parent *block.Header, headers HeaderSource) (uint32, error) {
	nextHeight := parent.Height + 1
	if cfg.Interval == 0 || nextHeight%cfg.Interval != 0 {
		return parent.Bits, nil
	}

	firstHeight := nextHeight - cfg.Interval
	first := parent
	for first.Height > firstHeight {
		prev, err := headers.HeaderByHash(first.PrevHash)
		if err != nil {
			return 0, fmt.Errorf("retarget: header %s at height %d: %w", first.PrevHash, first.Height-1, err)
		}
		first = prev
	}

	actual := parent.Timestamp - first.Timestamp
	expected := cfg.TargetSpacing * int64(cfg.Interval-1)
	if expected <= 0 {
		return parent.Bits, nil
	}
	if actual < expected/maxAdjustDown {
		actual = expected / maxAdjustDown
	}
	if actual > expected*maxAdjustUp {
		actual = expected * maxAdjustUp
	}

	newTarget := CompactToTarget(parent.Bits)
	newTarget.Mul(newTarget, big.NewInt(actual))
	newTarget.Div(newTarget, big.NewInt(expected))
	if newTarget.Cmp(maxTarget) > 0 {
		newTarget.Set(maxTarget)
	}
	return TargetToCompact(newTarget), nil
}
