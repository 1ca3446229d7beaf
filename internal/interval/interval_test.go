package interval

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return t0.Add(time.Duration(seconds) * time.Second)
}

func newPending() Interval {
	return Interval{
		ID:        "iv-1",
		SessionID: "s-1",
		UserID:    "u-1",
		Type:      TypeStudy,
		Status:    StatusPending,
		CreatedAt: t0,
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from    Status
		op      Op
		want    Status
		wantErr error
	}{
		{StatusPending, OpStart, StatusRunning, nil},
		{StatusPending, OpPause, StatusPending, ErrNotLive},
		{StatusPending, OpResume, StatusPending, ErrNotLive},
		{StatusPending, OpPing, StatusPending, ErrNotLive},
		{StatusPending, OpComplete, StatusPending, ErrInvalidTransition},
		{StatusPending, OpAbandon, StatusAbandoned, nil},

		{StatusRunning, OpStart, StatusRunning, ErrInvalidTransition},
		{StatusRunning, OpPause, StatusPaused, nil},
		{StatusRunning, OpResume, StatusRunning, ErrInvalidTransition},
		{StatusRunning, OpPing, StatusRunning, nil},
		{StatusRunning, OpComplete, StatusCompleted, nil},
		{StatusRunning, OpAbandon, StatusAbandoned, nil},

		{StatusPaused, OpStart, StatusPaused, ErrInvalidTransition},
		{StatusPaused, OpPause, StatusPaused, ErrInvalidTransition},
		{StatusPaused, OpResume, StatusRunning, nil},
		{StatusPaused, OpPing, StatusPaused, nil},
		{StatusPaused, OpComplete, StatusCompleted, nil},
		{StatusPaused, OpAbandon, StatusAbandoned, nil},

		{StatusCompleted, OpStart, StatusCompleted, ErrAlreadyFinalized},
		{StatusCompleted, OpComplete, StatusCompleted, ErrAlreadyFinalized},
		{StatusCompleted, OpAbandon, StatusCompleted, ErrAlreadyFinalized},
		{StatusCompleted, OpPing, StatusCompleted, ErrNotLive},
		{StatusAbandoned, OpResume, StatusAbandoned, ErrAlreadyFinalized},
		{StatusAbandoned, OpComplete, StatusAbandoned, ErrAlreadyFinalized},
		{StatusAbandoned, OpPing, StatusAbandoned, ErrNotLive},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.op), func(t *testing.T) {
			got, err := Transition(tt.from, tt.op)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected status %s, got %s", tt.want, got)
			}
		})
	}
}

func TestTransitionUnknownOperation(t *testing.T) {
	if _, err := Transition(StatusRunning, Op("rewind")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
	if _, err := Transition(Status("LOST"), OpPing); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for unknown status, got %v", err)
	}
}

type step struct {
	op Op
	at int
}

func run(t *testing.T, steps []step) Interval {
	t.Helper()
	iv := newPending()
	for _, s := range steps {
		var err error
		iv, err = Apply(iv, s.op, at(s.at))
		if err != nil {
			t.Fatalf("%s at %ds failed: %v", s.op, s.at, err)
		}
	}
	return iv
}

func TestApplyPauseResumeDuration(t *testing.T) {
	iv := run(t, []step{
		{OpStart, 0},
		{OpPause, 100},
		{OpResume, 150},
		{OpComplete, 200},
	})

	if iv.Status != StatusCompleted {
		t.Fatalf("Expected COMPLETED, got %s", iv.Status)
	}
	if iv.Duration != 150 {
		t.Errorf("Expected duration 150, got %d", iv.Duration)
	}
	if !iv.EndedAt.Equal(at(200)) {
		t.Errorf("Expected endedAt %v, got %v", at(200), iv.EndedAt)
	}
	if !iv.StartedAt.Equal(at(0)) {
		t.Errorf("Expected startedAt %v, got %v", at(0), iv.StartedAt)
	}
}

func TestApplyAbandonUsesLastPing(t *testing.T) {
	iv := run(t, []step{
		{OpStart, 0},
		{OpPing, 60},
		{OpAbandon, 160},
	})

	if iv.Status != StatusAbandoned {
		t.Fatalf("Expected ABANDONED, got %s", iv.Status)
	}
	if iv.Duration != 60 {
		t.Errorf("Expected duration 60, got %d", iv.Duration)
	}
	if !iv.EndedAt.Equal(at(60)) {
		t.Errorf("Expected endedAt %v, got %v", at(60), iv.EndedAt)
	}
}

func TestApplyAbandonWhilePaused(t *testing.T) {
	// Paused at 40, pinged while paused until 100: only the running part counts.
	iv := run(t, []step{
		{OpStart, 0},
		{OpPause, 40},
		{OpPing, 100},
		{OpAbandon, 500},
	})

	if iv.Duration != 40 {
		t.Errorf("Expected duration 40, got %d", iv.Duration)
	}
	if !iv.EndedAt.Equal(at(100)) {
		t.Errorf("Expected endedAt %v, got %v", at(100), iv.EndedAt)
	}
}

func TestApplyAbandonPending(t *testing.T) {
	iv := run(t, []step{{OpAbandon, 30}})

	if iv.Duration != 0 {
		t.Errorf("Expected duration 0, got %d", iv.Duration)
	}
	if iv.StartedAt != nil {
		t.Errorf("Expected startedAt to stay unset, got %v", iv.StartedAt)
	}
	if !iv.EndedAt.Equal(t0) {
		t.Errorf("Expected endedAt at creation %v, got %v", t0, iv.EndedAt)
	}
}

func TestApplyPauseResumeSameInstant(t *testing.T) {
	iv := run(t, []step{
		{OpStart, 0},
		{OpPause, 10},
		{OpResume, 10},
		{OpComplete, 20},
	})

	if iv.Duration != 20 {
		t.Errorf("Expected duration 20, got %d", iv.Duration)
	}
}

func TestApplyFloorsToWholeSeconds(t *testing.T) {
	iv := newPending()
	iv, _ = Apply(iv, OpStart, t0)
	iv, _ = Apply(iv, OpPause, t0.Add(1900*time.Millisecond))
	iv, _ = Apply(iv, OpResume, t0.Add(3*time.Second))
	iv, err := Apply(iv, OpComplete, t0.Add(4900*time.Millisecond))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// 1.9s + 1.9s = 3.8s
	if iv.Duration != 3 {
		t.Errorf("Expected duration 3, got %d", iv.Duration)
	}
}

func TestApplyClockStepBackwards(t *testing.T) {
	iv := run(t, []step{
		{OpStart, 0},
		{OpPing, 50},
	})

	iv, err := Apply(iv, OpComplete, at(20))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if iv.Duration != 50 {
		t.Errorf("Expected duration clamped to 50, got %d", iv.Duration)
	}
	if iv.EndedAt.Before(*iv.PingedAt) {
		t.Errorf("endedAt %v precedes pingedAt %v", iv.EndedAt, iv.PingedAt)
	}
}

func TestApplyTerminalIsImmutable(t *testing.T) {
	done := run(t, []step{{OpStart, 0}, {OpComplete, 30}})

	for _, op := range []Op{OpStart, OpPause, OpResume, OpComplete, OpAbandon, OpPing} {
		got, err := Apply(done, op, at(90))
		if err == nil {
			t.Errorf("%s on terminal interval succeeded", op)
		}
		if got.Duration != done.Duration || !got.EndedAt.Equal(*done.EndedAt) || got.Status != done.Status {
			t.Errorf("%s changed terminal interval: %+v", op, got)
		}
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	iv := run(t, []step{{OpStart, 0}})
	before := *iv.PingedAt

	if _, err := Apply(iv, OpPing, at(45)); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if !iv.PingedAt.Equal(before) {
		t.Errorf("Input pingedAt changed from %v to %v", before, iv.PingedAt)
	}
}

func TestEveryValidSequenceEndsTerminal(t *testing.T) {
	sequences := [][]Op{
		{OpStart, OpComplete},
		{OpStart, OpPause, OpComplete},
		{OpStart, OpPause, OpResume, OpPause, OpResume, OpComplete},
		{OpStart, OpPing, OpPing, OpAbandon},
		{OpStart, OpPause, OpPing, OpAbandon},
		{OpAbandon},
	}

	for _, seq := range sequences {
		iv := newPending()
		for i, op := range seq {
			var err error
			iv, err = Apply(iv, op, at(i*17))
			if err != nil {
				t.Fatalf("sequence %v: %s failed: %v", seq, op, err)
			}
		}
		if !iv.Status.Terminal() {
			t.Errorf("sequence %v ended in %s", seq, iv.Status)
		}
		if iv.Duration < 0 {
			t.Errorf("sequence %v produced negative duration %d", seq, iv.Duration)
		}
		if iv.StartedAt != nil && iv.PingedAt != nil {
			if iv.PingedAt.Before(*iv.StartedAt) || iv.EndedAt.Before(*iv.PingedAt) {
				t.Errorf("sequence %v broke startedAt <= pingedAt <= endedAt", seq)
			}
		}
	}
}

func TestActiveSeconds(t *testing.T) {
	iv := run(t, []step{{OpStart, 0}, {OpPause, 30}, {OpResume, 60}})

	if got := iv.ActiveSeconds(at(75)); got != 45 {
		t.Errorf("Expected 45 active seconds, got %d", got)
	}
	if iv.Duration != 0 {
		t.Errorf("Expected stored duration to stay 0 while live, got %d", iv.Duration)
	}
}

func TestStale(t *testing.T) {
	iv := run(t, []step{{OpStart, 0}, {OpPing, 60}})

	if iv.Stale(at(150), 90*time.Second) {
		t.Error("Expected interval pinged 90s ago to not be stale")
	}
	if !iv.Stale(at(151), 90*time.Second) {
		t.Error("Expected interval pinged 91s ago to be stale")
	}
	if newPending().Stale(at(10000), time.Second) {
		t.Error("Expected PENDING interval to never be stale")
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"STUDY", TypeStudy, false},
		{"break", TypeBreak, false},
		{" Study ", TypeStudy, false},
		{"nap", "", true},
	}

	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseType(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
