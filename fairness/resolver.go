package fairness

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// Tier describes one band of the outcome distribution. Cumulative is the
// upper probability bound of the band; tiers are ordered by it. Duration and
// multiplier ranges are inclusive. Multipliers are fixed-point x10 so all
// downstream settlement math stays integral.
type Tier struct {
	Name          string
	Cumulative    float64
	MinHours      int64
	MaxHours      int64
	MinMultX10    int64
	MaxMultX10    int64
	BonusEligible bool
}

// TierTable is an ordered list of tiers whose cumulative bounds end at 1.0.
type TierTable []Tier

// Validate checks that the table is non-empty, cumulative bounds are
// strictly increasing, the final bound reaches 1.0 (within float tolerance)
// and every range is sane.
func (t TierTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("tier table is empty")
	}
	prev := 0.0
	for i, tier := range t {
		if tier.Name == "" {
			return fmt.Errorf("tier %d has no name", i)
		}
		if tier.Cumulative <= prev {
			return fmt.Errorf("tier %q cumulative bound %f not increasing", tier.Name, tier.Cumulative)
		}
		if tier.MinHours <= 0 || tier.MaxHours < tier.MinHours {
			return fmt.Errorf("tier %q has invalid duration range [%d, %d]", tier.Name, tier.MinHours, tier.MaxHours)
		}
		if tier.MinMultX10 < 10 || tier.MaxMultX10 < tier.MinMultX10 {
			return fmt.Errorf("tier %q has invalid multiplier range [%d, %d]", tier.Name, tier.MinMultX10, tier.MaxMultX10)
		}
		prev = tier.Cumulative
	}
	if math.Abs(prev-1.0) > 1e-9 {
		return fmt.Errorf("tier table cumulative bounds end at %f, want 1.0", prev)
	}
	return nil
}

// DefaultTierTable is the production outcome distribution.
var DefaultTierTable = TierTable{
	{Name: "brick", Cumulative: 0.45, MinHours: 2, MaxHours: 24, MinMultX10: 10, MaxMultX10: 15},
	{Name: "mid", Cumulative: 0.73, MinHours: 12, MaxHours: 48, MinMultX10: 15, MaxMultX10: 30},
	{Name: "hot", Cumulative: 0.88, MinHours: 24, MaxHours: 96, MinMultX10: 30, MaxMultX10: 60},
	{Name: "legendary", Cumulative: 0.97, MinHours: 48, MaxHours: 168, MinMultX10: 60, MaxMultX10: 120, BonusEligible: true},
	{Name: "mythic", Cumulative: 1.0, MinHours: 96, MaxHours: 336, MinMultX10: 120, MaxMultX10: 250, BonusEligible: true},
}

// Outcome is the fully resolved result of one spin.
type Outcome struct {
	Tier          string
	Roll          uint32
	DurationHours int64
	MultiplierX10 int64
	BonusEligible bool
}

const rollSpace = 1 << 32

// Resolve deterministically maps (serverSeed, clientSeed, nonce) to an
// outcome. The combined hash is SHA256(serverSeed ":" clientSeed ":" nonce)
// with the nonce in decimal. Three disjoint 4-byte ranges of the hash drive
// tier selection, duration and multiplier, each interpreted as a big-endian
// uint32. Only integer arithmetic touches the hash so any third party can
// reproduce the result byte for byte from the revealed seed.
func Resolve(serverSeed, clientSeed string, nonce int64, table TierTable) (*Outcome, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tier table: %w", err)
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", serverSeed, clientSeed, nonce)))

	roll := binary.BigEndian.Uint32(sum[0:4])
	durationRand := binary.BigEndian.Uint32(sum[4:8])
	multiplierRand := binary.BigEndian.Uint32(sum[8:12])

	tier := selectTier(table, roll)

	return &Outcome{
		Tier:          tier.Name,
		Roll:          roll,
		DurationHours: scaleToRange(durationRand, tier.MinHours, tier.MaxHours),
		MultiplierX10: scaleToRange(multiplierRand, tier.MinMultX10, tier.MaxMultX10),
		BonusEligible: tier.BonusEligible,
	}, nil
}

// selectTier walks the table and picks the first tier whose cumulative upper
// bound exceeds the roll. The last tier is an explicit fallback: float
// accumulation in a configured table may leave the final bound a hair short
// of 1.0, and a maximal roll must still land somewhere.
func selectTier(table TierTable, roll uint32) Tier {
	for _, tier := range table {
		bound := uint64(tier.Cumulative * rollSpace)
		if uint64(roll) < bound {
			return tier
		}
	}
	return table[len(table)-1]
}

// scaleToRange maps a uint32 onto [min, max] inclusive using pure integer
// arithmetic: min + floor(r * (max - min + 1) / 2^32).
func scaleToRange(r uint32, min, max int64) int64 {
	span := uint64(max - min + 1)
	return min + int64((uint64(r)*span)>>32)
}

// VerifyOutcome recomputes the outcome for a revealed seed and reports
// whether it matches the recorded result. The seed must match its published
// commitment first; a mismatched seed proves nothing either way.
func VerifyOutcome(serverSeed, commitment, clientSeed string, nonce int64, table TierTable, recorded *Outcome) (bool, error) {
	if !VerifyCommitment(serverSeed, commitment) {
		return false, fmt.Errorf("seed does not match commitment %s", commitment)
	}
	out, err := Resolve(serverSeed, clientSeed, nonce, table)
	if err != nil {
		return false, err
	}
	match := out.Tier == recorded.Tier &&
		out.DurationHours == recorded.DurationHours &&
		out.MultiplierX10 == recorded.MultiplierX10 &&
		out.BonusEligible == recorded.BonusEligible
	return match, nil
}
