// Package trust resolves the effective trust level of an identity from
// admin grants, signed declarations, and manual assignments.
package trust

// Trust level bounds. Every resolved level is clamped into this range.
const (
	DefaultLevel = 1
	MinLevel     = -2
	MaxLevel     = 30
)

// Tier is the coarse bucket derived from a trust level.
type Tier string

const (
	TierRestricted Tier = "restricted"
	TierUnverified Tier = "unverified"
	TierVerified   Tier = "verified"
	TierTrusted    Tier = "trusted"
)

// Tier thresholds. Fixed constants, not configurable per call.
const (
	trustedThreshold  = 8
	verifiedThreshold = 5
)

// TierFor maps a trust level to its tier.
func TierFor(level int) Tier {
	switch {
	case level <= 0:
		return TierRestricted
	case level >= trustedThreshold:
		return TierTrusted
	case level >= verifiedThreshold:
		return TierVerified
	default:
		return TierUnverified
	}
}

// usageLevels maps an admin keypair's key_usage tag to its grant level.
var usageLevels = map[string]int{
	"master-admin-signing":    30,
	"operating-admin-signing": 20,
	"authorized-admin":        11,
}

// roleLevels maps named declaration roles to numeric levels.
var roleLevels = map[string]int{
	"master-admin":     30,
	"operating-admin":  20,
	"authorized-admin": 11,
	"moderator":        8,
	"user":             4,
}

// UsageLevel returns the level granted by an admin key_usage tag.
func UsageLevel(tag string) (int, bool) {
	l, ok := usageLevels[tag]
	return l, ok
}

// RoleLevel returns the level for a named declaration role.
func RoleLevel(name string) (int, bool) {
	l, ok := roleLevels[name]
	return l, ok
}

// Clamp bounds a level to [MinLevel, MaxLevel].
func Clamp(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}
