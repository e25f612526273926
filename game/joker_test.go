package game

import (
	"testing"
	"time"
)

func at(ms int) time.Time {
	return time.Unix(0, 0).Add(time.Duration(ms) * time.Millisecond)
}

func TestResolveJokersProtectionTiming(t *testing.T) {
	tests := []struct {
		name          string
		actions       []JokerAction
		wantBlocked   bool
		wantConflicts int
	}{
		{
			name: "protection before block defeats it",
			actions: []JokerAction{
				{PlayerID: "alice", Type: JokerProtection, Timestamp: at(100)},
				{PlayerID: "bob", TargetID: "alice", Type: JokerBlock, Timestamp: at(200)},
			},
			wantBlocked:   false,
			wantConflicts: 1,
		},
		{
			name: "block before protection lands",
			actions: []JokerAction{
				{PlayerID: "bob", TargetID: "alice", Type: JokerBlock, Timestamp: at(100)},
				{PlayerID: "alice", Type: JokerProtection, Timestamp: at(200)},
			},
			wantBlocked:   true,
			wantConflicts: 0,
		},
		{
			name: "delivery order does not matter, timestamps do",
			actions: []JokerAction{
				{PlayerID: "bob", TargetID: "alice", Type: JokerBlock, Timestamp: at(200)},
				{PlayerID: "alice", Type: JokerProtection, Timestamp: at(100)},
			},
			wantBlocked:   false,
			wantConflicts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eff, conflicts := ResolveJokers(tt.actions)
			if got := eff.Blocks["alice"]; got != tt.wantBlocked {
				t.Errorf("Blocks[alice] = %v, want %v", got, tt.wantBlocked)
			}
			if len(conflicts) != tt.wantConflicts {
				t.Errorf("len(conflicts) = %d, want %d", len(conflicts), tt.wantConflicts)
			}
		})
	}
}

func TestResolveJokersStealVsProtection(t *testing.T) {
	eff, conflicts := ResolveJokers([]JokerAction{
		{PlayerID: "carol", Type: JokerProtection, Timestamp: at(50)},
		{PlayerID: "dave", TargetID: "carol", Type: JokerSteal, Timestamp: at(60)},
		{PlayerID: "dave", TargetID: "erin", Type: JokerSteal, Timestamp: at(70)},
	})

	if _, ok := eff.Steals["carol"]; ok {
		t.Error("steal against protected carol should not land")
	}
	if thief := eff.Steals["erin"]; thief != "dave" {
		t.Errorf("Steals[erin] = %q, want %q", thief, "dave")
	}
	if len(conflicts) != 1 {
		t.Fatalf("len(conflicts) = %d, want 1", len(conflicts))
	}
	if conflicts[0].Action.PlayerID != "dave" {
		t.Errorf("conflict player = %q, want dave", conflicts[0].Action.PlayerID)
	}
}

func TestResolveJokersLastStealWins(t *testing.T) {
	// Two steals against the same victim: the later declaration
	// overwrites the earlier, only one thief collects.
	eff, _ := ResolveJokers([]JokerAction{
		{PlayerID: "bob", TargetID: "alice", Type: JokerSteal, Timestamp: at(100)},
		{PlayerID: "carol", TargetID: "alice", Type: JokerSteal, Timestamp: at(200)},
	})

	if thief := eff.Steals["alice"]; thief != "carol" {
		t.Errorf("Steals[alice] = %q, want carol", thief)
	}
}

func TestResolveJokersMissingTarget(t *testing.T) {
	eff, conflicts := ResolveJokers([]JokerAction{
		{PlayerID: "bob", Type: JokerBlock, Timestamp: at(100)},
		{PlayerID: "bob", Type: JokerSteal, Timestamp: at(200)},
	})

	if len(eff.Blocks) != 0 || len(eff.Steals) != 0 {
		t.Error("targetless block/steal must not produce effects")
	}
	if len(conflicts) != 2 {
		t.Errorf("len(conflicts) = %d, want 2", len(conflicts))
	}
}

func TestResolveJokersSelfTargetedTypes(t *testing.T) {
	eff, conflicts := ResolveJokers([]JokerAction{
		{PlayerID: "alice", Type: JokerDoublePoints, Timestamp: at(10)},
		{PlayerID: "bob", Type: JokerProtection, Timestamp: at(20)},
	})

	if !eff.DoublePoints["alice"] {
		t.Error("DoublePoints[alice] not set")
	}
	if !eff.Protections["bob"] {
		t.Error("Protections[bob] not set")
	}
	if len(conflicts) != 0 {
		t.Errorf("len(conflicts) = %d, want 0", len(conflicts))
	}
}

func TestResolveJokersDeterministicAcrossOrderings(t *testing.T) {
	actions := []JokerAction{
		{PlayerID: "a", Type: JokerProtection, Timestamp: at(10)},
		{PlayerID: "b", TargetID: "a", Type: JokerBlock, Timestamp: at(20)},
		{PlayerID: "c", TargetID: "b", Type: JokerSteal, Timestamp: at(30)},
		{PlayerID: "d", Type: JokerDoublePoints, Timestamp: at(40)},
	}
	reversed := []JokerAction{actions[3], actions[2], actions[1], actions[0]}

	eff1, c1 := ResolveJokers(actions)
	eff2, c2 := ResolveJokers(reversed)

	if len(c1) != len(c2) {
		t.Fatalf("conflict counts differ: %d vs %d", len(c1), len(c2))
	}
	if eff1.Blocks["a"] != eff2.Blocks["a"] ||
		eff1.Steals["b"] != eff2.Steals["b"] ||
		eff1.DoublePoints["d"] != eff2.DoublePoints["d"] {
		t.Error("resolution depends on delivery order")
	}
}

func TestValidJokerType(t *testing.T) {
	for _, valid := range []JokerType{JokerProtection, JokerBlock, JokerSteal, JokerDoublePoints} {
		if !ValidJokerType(valid) {
			t.Errorf("ValidJokerType(%q) = false, want true", valid)
		}
	}
	if ValidJokerType("wildcard") {
		t.Error("ValidJokerType(wildcard) = true, want false")
	}
}

func TestRequiresTarget(t *testing.T) {
	if !JokerBlock.RequiresTarget() || !JokerSteal.RequiresTarget() {
		t.Error("block and steal require targets")
	}
	if JokerProtection.RequiresTarget() || JokerDoublePoints.RequiresTarget() {
		t.Error("protection and double_points are self-targeted")
	}
}
