package progression

import (
	"fmt"

	"github.com/rogers-f/taskraid/internal/domain"
)

// PerDifficulty holds one tunable value per task difficulty.
type PerDifficulty struct {
	Easy   float64 `yaml:"easy" json:"easy"`
	Medium float64 `yaml:"medium" json:"medium"`
	Hard   float64 `yaml:"hard" json:"hard"`
}

// Of returns the value for d, or 0 for an unknown difficulty.
func (p PerDifficulty) Of(d domain.Difficulty) float64 {
	switch d {
	case domain.DifficultyEasy:
		return p.Easy
	case domain.DifficultyMedium:
		return p.Medium
	case domain.DifficultyHard:
		return p.Hard
	default:
		return 0
	}
}

// SkillKind is what a class skill does when it fires in a raid.
type SkillKind string

const (
	SkillDamage SkillKind = "damage"
	SkillHeal   SkillKind = "heal"
)

// RaidSkill is a class's raid behavior. For SkillDamage, Fraction scales the
// triggering hit into a bonus hit; for SkillHeal, Fraction is the share of
// each member's max HP restored.
type RaidSkill struct {
	Kind     SkillKind `yaml:"kind" json:"kind"`
	Fraction float64   `yaml:"fraction" json:"fraction"`
}

// ClassStats is one row of the class skill table.
type ClassStats struct {
	Defense         float64   `yaml:"defense" json:"defense"`
	ManaMultiplier  float64   `yaml:"mana_multiplier" json:"mana_multiplier"`
	XPLossReduction float64   `yaml:"xp_loss_reduction" json:"xp_loss_reduction"`
	HPRegenBonus    float64   `yaml:"hp_regen_bonus" json:"hp_regen_bonus"`
	DropChanceBonus float64   `yaml:"drop_chance_bonus" json:"drop_chance_bonus"`
	RaidSkill       RaidSkill `yaml:"raid_skill" json:"raid_skill"`
}

// RaidBalance tunes the raid boss engine.
type RaidBalance struct {
	BaseDamage        PerDifficulty `yaml:"base_damage" json:"base_damage"`
	LevelScaling      float64       `yaml:"level_scaling" json:"level_scaling"`
	StunMultiplier    float64       `yaml:"stun_multiplier" json:"stun_multiplier"`
	SkillEvery        int           `yaml:"skill_every" json:"skill_every"`
	VictoryGold       int           `yaml:"victory_gold" json:"victory_gold"`
	VictoryXP         int           `yaml:"victory_xp" json:"victory_xp"`
	CritChance        float64       `yaml:"crit_chance" json:"crit_chance"`
	CritDailyCap      int           `yaml:"crit_daily_cap" json:"crit_daily_cap"`
	CritFraction      float64       `yaml:"crit_fraction" json:"crit_fraction"`
	ChargeWindowHours int           `yaml:"charge_window_hours" json:"charge_window_hours"`
	SupernovaFraction float64       `yaml:"supernova_fraction" json:"supernova_fraction"`
	ChargePerTask     float64       `yaml:"charge_per_task" json:"charge_per_task"`
	StunHours         int           `yaml:"stun_hours" json:"stun_hours"`
	DesertionGold     int           `yaml:"desertion_gold" json:"desertion_gold"`
	DesertionHP       int           `yaml:"desertion_hp" json:"desertion_hp"`
	DurationDays      int           `yaml:"duration_days" json:"duration_days"`
}

// DuelBalance tunes the duel state machine.
type DuelBalance struct {
	MaxHP              int           `yaml:"max_hp" json:"max_hp"`
	RequiredTasks      int           `yaml:"required_tasks" json:"required_tasks"`
	Damage             PerDifficulty `yaml:"damage" json:"damage"`
	VictoryXP          int           `yaml:"victory_xp" json:"victory_xp"`
	VictoryGold        int           `yaml:"victory_gold" json:"victory_gold"`
	VictoryTrophies    int           `yaml:"victory_trophies" json:"victory_trophies"`
	RaidFanoutFraction float64       `yaml:"raid_fanout_fraction" json:"raid_fanout_fraction"`
}

// Balance holds every gameplay constant the engines read.
type Balance struct {
	BaseXP           PerDifficulty `yaml:"base_xp" json:"base_xp"`
	BaseGold         PerDifficulty `yaml:"base_gold" json:"base_gold"`
	BaseMana         PerDifficulty `yaml:"base_mana" json:"base_mana"`
	DifficultyFactor PerDifficulty `yaml:"difficulty_factor" json:"difficulty_factor"`

	XPPerIntelligence     float64 `yaml:"xp_per_intelligence" json:"xp_per_intelligence"`
	GoldPerPerception     float64 `yaml:"gold_per_perception" json:"gold_per_perception"`
	ManaPerIntelligence   float64 `yaml:"mana_per_intelligence" json:"mana_per_intelligence"`
	DamageScale           float64 `yaml:"damage_scale" json:"damage_scale"`
	DamagePerConstitution float64 `yaml:"damage_per_constitution" json:"damage_per_constitution"`

	BaseMaxHP           int `yaml:"base_max_hp" json:"base_max_hp"`
	BaseMaxMana         int `yaml:"base_max_mana" json:"base_max_mana"`
	MaxManaPerIntellect int `yaml:"max_mana_per_intellect" json:"max_mana_per_intellect"`
	PointsPerLevel      int `yaml:"points_per_level" json:"points_per_level"`

	Classes map[domain.Class]ClassStats `yaml:"classes" json:"classes"`
	Raid    RaidBalance                 `yaml:"raid" json:"raid"`
	Duel    DuelBalance                 `yaml:"duel" json:"duel"`
}

// DefaultBalance returns the shipped balance.
func DefaultBalance() Balance {
	return Balance{
		BaseXP:           PerDifficulty{Easy: 10, Medium: 15, Hard: 25},
		BaseGold:         PerDifficulty{Easy: 5, Medium: 10, Hard: 15},
		BaseMana:         PerDifficulty{Easy: 1, Medium: 2, Hard: 3},
		DifficultyFactor: PerDifficulty{Easy: 1.0, Medium: 1.5, Hard: 2.0},

		XPPerIntelligence:     0.5,
		GoldPerPerception:     0.2,
		ManaPerIntelligence:   0.2,
		DamageScale:           2.5,
		DamagePerConstitution: 0.5,

		BaseMaxHP:           50,
		BaseMaxMana:         10,
		MaxManaPerIntellect: 2,
		PointsPerLevel:      1,

		Classes: map[domain.Class]ClassStats{
			domain.ClassWarrior: {Defense: 1.5, ManaMultiplier: 1.0, HPRegenBonus: 0.1, RaidSkill: RaidSkill{Kind: SkillDamage, Fraction: 0.5}},
			domain.ClassMage:    {Defense: 1.0, ManaMultiplier: 1.5, XPLossReduction: 0.1, RaidSkill: RaidSkill{Kind: SkillDamage, Fraction: 0.4}},
			domain.ClassHealer:  {Defense: 1.2, ManaMultiplier: 1.2, HPRegenBonus: 0.2, RaidSkill: RaidSkill{Kind: SkillHeal, Fraction: 0.1}},
			domain.ClassRogue:   {Defense: 1.0, ManaMultiplier: 1.0, DropChanceBonus: 0.15, RaidSkill: RaidSkill{Kind: SkillDamage, Fraction: 0.3}},
		},

		Raid: RaidBalance{
			BaseDamage:        PerDifficulty{Easy: 10, Medium: 25, Hard: 50},
			LevelScaling:      0.02,
			StunMultiplier:    2,
			SkillEvery:        3,
			VictoryGold:       100,
			VictoryXP:         200,
			CritChance:        0.15,
			CritDailyCap:      3,
			CritFraction:      0.05,
			ChargeWindowHours: 72,
			SupernovaFraction: 0.4,
			ChargePerTask:     5,
			StunHours:         6,
			DesertionGold:     25,
			DesertionHP:       10,
			DurationDays:      14,
		},

		Duel: DuelBalance{
			MaxHP:              100,
			RequiredTasks:      5,
			Damage:             PerDifficulty{Easy: 0, Medium: 15, Hard: 25},
			VictoryXP:          100,
			VictoryGold:        50,
			VictoryTrophies:    1,
			RaidFanoutFraction: 0.5,
		},
	}
}

// Class returns the stats row for c, falling back to a neutral row for a
// class missing from the table.
func (b Balance) Class(c domain.Class) ClassStats {
	if s, ok := b.Classes[c]; ok {
		return s
	}
	return ClassStats{Defense: 1, ManaMultiplier: 1, RaidSkill: RaidSkill{Kind: SkillDamage}}
}

// Validate lists every problem with the balance. An empty result means the
// balance is usable.
func (b Balance) Validate() []string {
	var problems []string
	for _, c := range domain.Classes() {
		s, ok := b.Classes[c]
		if !ok {
			problems = append(problems, fmt.Sprintf("classes.%s is missing", c))
			continue
		}
		if s.Defense <= 0 {
			problems = append(problems, fmt.Sprintf("classes.%s.defense must be > 0", c))
		}
		if s.RaidSkill.Kind != SkillDamage && s.RaidSkill.Kind != SkillHeal {
			problems = append(problems, fmt.Sprintf("classes.%s.raid_skill.kind must be damage or heal", c))
		}
	}
	if b.BaseMaxHP <= 0 {
		problems = append(problems, "base_max_hp must be > 0")
	}
	if b.Raid.SkillEvery <= 0 {
		problems = append(problems, "raid.skill_every must be > 0")
	}
	if b.Raid.CritChance < 0 || b.Raid.CritChance > 1 {
		problems = append(problems, "raid.crit_chance must be within [0, 1]")
	}
	if b.Raid.ChargeWindowHours <= 0 {
		problems = append(problems, "raid.charge_window_hours must be > 0")
	}
	if b.Raid.DurationDays <= 0 {
		problems = append(problems, "raid.duration_days must be > 0")
	}
	if b.Duel.MaxHP <= 0 {
		problems = append(problems, "duel.max_hp must be > 0")
	}
	if b.Duel.RequiredTasks <= 0 {
		problems = append(problems, "duel.required_tasks must be > 0")
	}
	return problems
}
