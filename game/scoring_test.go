package game

import "testing"

func TestAwardAnswerBasic(t *testing.T) {
	l := NewLedger()

	award, err := l.AwardAnswer("alice", 0, 100, true, NewEffects())
	if err != nil {
		t.Fatalf("AwardAnswer() error = %v", err)
	}
	if award.Points != 100 {
		t.Errorf("Points = %d, want 100", award.Points)
	}
	if !award.Correct {
		t.Error("Correct = false, want true")
	}

	award, err = l.AwardAnswer("bob", 0, 100, false, NewEffects())
	if err != nil {
		t.Fatalf("AwardAnswer() error = %v", err)
	}
	if award.Points != 0 {
		t.Errorf("incorrect answer Points = %d, want 0", award.Points)
	}
}

func TestAwardAnswerDuplicate(t *testing.T) {
	l := NewLedger()

	if _, err := l.AwardAnswer("alice", 0, 100, false, NewEffects()); err != nil {
		t.Fatalf("first submission error = %v", err)
	}
	// A miss is recorded too: retrying with the right answer earns nothing
	_, err := l.AwardAnswer("alice", 0, 100, true, NewEffects())
	if err != ErrDuplicateAnswer {
		t.Errorf("second submission error = %v, want ErrDuplicateAnswer", err)
	}
	if pts := l.QuestionPoints("alice", 0); pts != 0 {
		t.Errorf("QuestionPoints = %d, want 0", pts)
	}

	// Same player, next question is a fresh submission
	if _, err := l.AwardAnswer("alice", 1, 100, true, NewEffects()); err != nil {
		t.Errorf("next question submission error = %v", err)
	}
}

func TestAwardAnswerBlocked(t *testing.T) {
	l := NewLedger()
	eff := NewEffects()
	eff.Blocks["alice"] = true

	_, err := l.AwardAnswer("alice", 0, 100, true, eff)
	if err != ErrPlayerBlocked {
		t.Fatalf("error = %v, want ErrPlayerBlocked", err)
	}
	if pts := l.QuestionPoints("alice", 0); pts != 0 {
		t.Errorf("blocked player QuestionPoints = %d, want 0", pts)
	}
}

func TestAwardAnswerDoublePoints(t *testing.T) {
	l := NewLedger()
	eff := NewEffects()
	eff.DoublePoints["alice"] = true

	award, err := l.AwardAnswer("alice", 0, 100, true, eff)
	if err != nil {
		t.Fatalf("AwardAnswer() error = %v", err)
	}
	if award.Points != 200 {
		t.Errorf("Points = %d, want 200", award.Points)
	}
	if !award.Doubled {
		t.Error("Doubled = false, want true")
	}

	// Doubling never applies to a miss
	l2 := NewLedger()
	award, _ = l2.AwardAnswer("alice", 0, 100, false, eff)
	if award.Points != 0 {
		t.Errorf("missed doubled answer Points = %d, want 0", award.Points)
	}
}

func TestApplyStealsTransfers(t *testing.T) {
	l := NewLedger()
	eff := NewEffects()
	eff.Steals["victim"] = "thief"

	l.AwardAnswer("victim", 3, 100, true, NewEffects())
	l.AwardAnswer("thief", 3, 100, true, NewEffects())

	transfers := l.ApplySteals(3, eff)
	if len(transfers) != 1 {
		t.Fatalf("len(transfers) = %d, want 1", len(transfers))
	}
	tr := transfers[0]
	if tr.Points != 100 || tr.VictimID != "victim" || tr.ThiefID != "thief" {
		t.Errorf("transfer = %+v, want 100 points victim->thief", tr)
	}

	if pts := l.QuestionPoints("victim", 3); pts != 0 {
		t.Errorf("victim QuestionPoints = %d, want 0", pts)
	}
	if pts := l.QuestionPoints("thief", 3); pts != 200 {
		t.Errorf("thief QuestionPoints = %d, want 200", pts)
	}
}

func TestApplyStealsZeroSum(t *testing.T) {
	l := NewLedger()
	eff := NewEffects()
	eff.Steals["a"] = "b"
	eff.Steals["c"] = "a"

	l.AwardAnswer("a", 0, 100, true, NewEffects())
	l.AwardAnswer("b", 0, 100, true, NewEffects())
	l.AwardAnswer("c", 0, 100, true, NewEffects())

	before := l.QuestionPoints("a", 0) + l.QuestionPoints("b", 0) + l.QuestionPoints("c", 0)
	l.ApplySteals(0, eff)
	after := l.QuestionPoints("a", 0) + l.QuestionPoints("b", 0) + l.QuestionPoints("c", 0)

	if before != after {
		t.Errorf("total points changed: before %d, after %d", before, after)
	}
}

func TestApplyStealsChainDeterministic(t *testing.T) {
	// A thief who is also a victim hands over only what they earned,
	// never points stolen to them: b drains a's earned 100, a still
	// collects c's earned 100. The outcome must not depend on map
	// iteration order, so run the same chain repeatedly.
	for run := 0; run < 50; run++ {
		l := NewLedger()
		eff := NewEffects()
		eff.Steals["a"] = "b"
		eff.Steals["c"] = "a"

		l.AwardAnswer("a", 0, 100, true, NewEffects())
		l.AwardAnswer("b", 0, 100, true, NewEffects())
		l.AwardAnswer("c", 0, 100, true, NewEffects())

		transfers := l.ApplySteals(0, eff)
		if len(transfers) != 2 {
			t.Fatalf("run %d: len(transfers) = %d, want 2", run, len(transfers))
		}
		// Transfers come out sorted by victim for stable persistence.
		if transfers[0].VictimID != "a" || transfers[0].ThiefID != "b" || transfers[0].Points != 100 {
			t.Errorf("run %d: transfers[0] = %+v, want a->b 100", run, transfers[0])
		}
		if transfers[1].VictimID != "c" || transfers[1].ThiefID != "a" || transfers[1].Points != 100 {
			t.Errorf("run %d: transfers[1] = %+v, want c->a 100", run, transfers[1])
		}

		if pts := l.QuestionPoints("a", 0); pts != 100 {
			t.Errorf("run %d: a QuestionPoints = %d, want 100", run, pts)
		}
		if pts := l.QuestionPoints("b", 0); pts != 200 {
			t.Errorf("run %d: b QuestionPoints = %d, want 200", run, pts)
		}
		if pts := l.QuestionPoints("c", 0); pts != 0 {
			t.Errorf("run %d: c QuestionPoints = %d, want 0", run, pts)
		}
	}
}

func TestApplyStealsIdempotent(t *testing.T) {
	l := NewLedger()
	eff := NewEffects()
	eff.Steals["victim"] = "thief"

	l.AwardAnswer("victim", 0, 100, true, NewEffects())

	first := l.ApplySteals(0, eff)
	if len(first) != 1 {
		t.Fatalf("first ApplySteals len = %d, want 1", len(first))
	}
	second := l.ApplySteals(0, eff)
	if len(second) != 0 {
		t.Errorf("second ApplySteals len = %d, want 0", len(second))
	}
	if pts := l.QuestionPoints("thief", 0); pts != 100 {
		t.Errorf("thief QuestionPoints after replay = %d, want 100", pts)
	}
}

func TestApplyStealsBlockedVictimTransfersZero(t *testing.T) {
	// Victim was blocked and never scored: the steal legitimately moves
	// zero points.
	l := NewLedger()
	eff := NewEffects()
	eff.Blocks["victim"] = true
	eff.Steals["victim"] = "thief"

	if _, err := l.AwardAnswer("victim", 0, 100, true, eff); err != ErrPlayerBlocked {
		t.Fatalf("expected blocked victim, got %v", err)
	}

	transfers := l.ApplySteals(0, eff)
	if len(transfers) != 1 {
		t.Fatalf("len(transfers) = %d, want 1", len(transfers))
	}
	if transfers[0].Points != 0 {
		t.Errorf("transfer Points = %d, want 0", transfers[0].Points)
	}
}
