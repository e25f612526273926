// game/joker.go - Joker (power-up) resolution engine
package game

import (
	"sort"
	"time"
)

// JokerType identifies one of the four limited-use power-ups.
type JokerType string

const (
	JokerProtection   JokerType = "protection"
	JokerBlock        JokerType = "block"
	JokerSteal        JokerType = "steal"
	JokerDoublePoints JokerType = "double_points"
)

// ValidJokerType reports whether t is a known joker type.
func ValidJokerType(t JokerType) bool {
	switch t {
	case JokerProtection, JokerBlock, JokerSteal, JokerDoublePoints:
		return true
	}
	return false
}

// RequiresTarget reports whether the joker type acts on another player.
func (t JokerType) RequiresTarget() bool {
	return t == JokerBlock || t == JokerSteal
}

// JokerAction is an immutable record of one joker use during a strategy
// window. Actions are append-only facts; they are never mutated.
type JokerAction struct {
	PlayerID      string    `json:"player_id"`
	TargetID      string    `json:"target_player_id,omitempty"`
	Type          JokerType `json:"action_type"`
	Timestamp     time.Time `json:"timestamp"`
	QuestionIndex int       `json:"question_index"`
}

// Effects are the active joker effects for a single question, derived
// fresh from that question's actions and never carried over.
type Effects struct {
	Protections  map[string]bool   `json:"protections"`
	Blocks       map[string]bool   `json:"blocks"`
	Steals       map[string]string `json:"steals"` // victim -> thief
	DoublePoints map[string]bool   `json:"double_points"`
}

// NewEffects returns an empty effect set.
func NewEffects() Effects {
	return Effects{
		Protections:  make(map[string]bool),
		Blocks:       make(map[string]bool),
		Steals:       make(map[string]string),
		DoublePoints: make(map[string]bool),
	}
}

// Conflict records an action that could not be applied.
type Conflict struct {
	Action JokerAction `json:"action"`
	Reason string      `json:"reason"`
}

// ResolveJokers computes the active effects for one question from the
// unordered set of actions submitted during its strategy window.
//
// Actions are processed in submission-timestamp order (arrival order
// breaks exact ties), so the outcome is a pure function of the action
// set regardless of delivery order. The ordering is load-bearing: a
// protection only defeats a block or steal declared AFTER it. A block
// declared before the victim protected still lands: you had to commit
// to protection before the attack.
func ResolveJokers(actions []JokerAction) (Effects, []Conflict) {
	eff := NewEffects()
	var conflicts []Conflict

	ordered := make([]JokerAction, len(actions))
	copy(ordered, actions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	for _, a := range ordered {
		switch a.Type {
		case JokerProtection:
			eff.Protections[a.PlayerID] = true

		case JokerDoublePoints:
			eff.DoublePoints[a.PlayerID] = true

		case JokerBlock:
			if a.TargetID == "" {
				conflicts = append(conflicts, Conflict{Action: a, Reason: "block requires a target"})
				continue
			}
			if eff.Protections[a.TargetID] {
				conflicts = append(conflicts, Conflict{Action: a, Reason: "target already protected"})
				continue
			}
			eff.Blocks[a.TargetID] = true

		case JokerSteal:
			if a.TargetID == "" {
				conflicts = append(conflicts, Conflict{Action: a, Reason: "steal requires a target"})
				continue
			}
			if eff.Protections[a.TargetID] {
				conflicts = append(conflicts, Conflict{Action: a, Reason: "target already protected"})
				continue
			}
			eff.Steals[a.TargetID] = a.PlayerID

		default:
			conflicts = append(conflicts, Conflict{Action: a, Reason: "unknown action type"})
		}
	}

	return eff, conflicts
}
