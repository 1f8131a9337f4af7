// Package progression holds the pure formulas that turn task outcomes into
// experience, currency, mana and damage, plus the leveling curve.
package progression

import (
	"math"

	"github.com/rogers-f/taskraid/internal/domain"
)

// XPForLevel is the experience needed to reach level n from n-1.
func XPForLevel(n int) int {
	return (n*n + 24*n + 475) / 2
}

// XPToNextLevel is the experience a player at level must bank to level up.
func XPToNextLevel(level int) int {
	return XPForLevel(level + 1)
}

// ProcessLevelUp converts banked experience into levels, crossing as many
// thresholds as xp allows.
func ProcessLevelUp(level, xp int) (newLevel, remaining, gained int) {
	if level < 1 {
		level = 1
	}
	for xp >= XPToNextLevel(level) {
		xp -= XPToNextLevel(level)
		level++
		gained++
	}
	return level, xp, gained
}

// Reward is the computed payout for one completed task.
type Reward struct {
	XP   int `json:"xp"`
	Gold int `json:"gold"`
	Mana int `json:"mana"`
}

// Calculator evaluates the formulas against a balance table.
type Calculator struct {
	b Balance
}

func NewCalculator(b Balance) *Calculator {
	return &Calculator{b: b}
}

// Balance returns the table the calculator reads.
func (c *Calculator) Balance() Balance {
	return c.b
}

func (c *Calculator) XPGain(d domain.Difficulty, a domain.PlayerAttributes) int {
	return ceil(c.b.BaseXP.Of(d) + c.b.XPPerIntelligence*float64(a.Intelligence))
}

func (c *Calculator) GoldGain(d domain.Difficulty, a domain.PlayerAttributes) int {
	return ceil(c.b.BaseGold.Of(d) + c.b.GoldPerPerception*float64(a.Perception))
}

func (c *Calculator) ManaGain(d domain.Difficulty, a domain.PlayerAttributes) int {
	mult := c.b.Class(a.Class).ManaMultiplier
	return ceil(c.b.BaseMana.Of(d)*mult + c.b.ManaPerIntelligence*float64(a.Intelligence))
}

// Completion bundles the three gains for a completed task.
func (c *Calculator) Completion(d domain.Difficulty, a domain.PlayerAttributes) Reward {
	return Reward{
		XP:   c.XPGain(d, a),
		Gold: c.GoldGain(d, a),
		Mana: c.ManaGain(d, a),
	}
}

// Damage is the HP a player loses for failing a task. Never below 1.
func (c *Calculator) Damage(d domain.Difficulty, a domain.PlayerAttributes) int {
	level := a.Level
	if level < 1 {
		level = 1
	}
	def := c.b.Class(a.Class).Defense
	if def <= 0 {
		def = 1
	}
	raw := float64(level)*c.b.DifficultyFactor.Of(d)*c.b.DamageScale/def - c.b.DamagePerConstitution*float64(a.Constitution)
	return max(1, ceil(raw))
}

// RaidHit scales a base raid damage by the attacker's level.
func (c *Calculator) RaidHit(base float64, level int) int {
	if base <= 0 {
		return 0
	}
	return ceil(base * (1 + c.b.Raid.LevelScaling*float64(level)))
}

// MaxMana is the mana cap for the given intelligence.
func (c *Calculator) MaxMana(intelligence int) int {
	return c.b.BaseMaxMana + c.b.MaxManaPerIntellect*intelligence
}

// Fraction returns ceil(total*f), the share of a pool an effect touches.
func Fraction(total int, f float64) int {
	if total <= 0 || f <= 0 {
		return 0
	}
	return ceil(float64(total) * f)
}

// ceil rounds up while absorbing float noise such as 50*1.4 = 70.00000000000001.
func ceil(x float64) int {
	return int(math.Ceil(x - 1e-9))
}
