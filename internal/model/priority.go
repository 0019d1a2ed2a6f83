package model

import (
	"fmt"
	"strings"
)

// PriorityTier is the service class attached to a passenger account.  It
// decides where a passenger lands in a waitlist: higher tiers are served
// first, and within one tier the earliest arrival wins.
type PriorityTier string

const (
	TierEmergency PriorityTier = "EMERGENCY"
	TierPremium   PriorityTier = "PREMIUM"
	TierRegular   PriorityTier = "REGULAR"
)

// Rank maps a tier onto the canonical waitlist order
// EMERGENCY > PREMIUM > REGULAR.  Larger ranks are served first.  Unknown
// tiers rank below REGULAR so a malformed value can never jump the queue.
func (t PriorityTier) Rank() int {
	switch t {
	case TierEmergency:
		return 3
	case TierPremium:
		return 2
	case TierRegular:
		return 1
	}
	return 0
}

// Valid reports whether t is one of the known tiers.
func (t PriorityTier) Valid() bool { return t.Rank() > 0 }

// ParsePriorityTier converts a case-insensitive string into a tier.  The
// empty string maps to REGULAR, which is what accounts without an explicit
// tier get.
func ParsePriorityTier(s string) (PriorityTier, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return TierRegular, nil
	}
	t := PriorityTier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown priority tier %q", s)
	}
	return t, nil
}

// TierFromRank is the inverse of Rank, used by backends that only persist
// the numeric rank.
func TierFromRank(rank int) PriorityTier {
	switch rank {
	case 3:
		return TierEmergency
	case 2:
		return TierPremium
	case 1:
		return TierRegular
	}
	return ""
}
