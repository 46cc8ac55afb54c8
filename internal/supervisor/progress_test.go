package supervisor

import (
	"reflect"
	"strconv"
	"testing"
)

func TestParserComputesOverallPercent(t *testing.T) {
	p := NewProgressParser(5)
	p.state = State{Phase: PhaseInSpan, Pass: 2}
	ev := p.Feed(" 40%|████      | 4/10 [00:04<00:06]")
	if ev.Kind != EventProgress || ev.Percent != 48 || ev.Started {
		t.Fatalf("event = %+v", ev)
	}
}

func TestParserTransitions(t *testing.T) {
	p := NewProgressParser(2)

	ev := p.Feed("Predicting case P1")
	if ev.Kind != EventLine || ev.Text != "Predicting case P1" {
		t.Fatalf("free text = %+v", ev)
	}

	ev = p.Feed("  0%|          | 0/4")
	if ev.Kind != EventProgress || ev.Percent != 0 || !ev.Started {
		t.Fatalf("first marker = %+v", ev)
	}
	if got := p.State(); got.Phase != PhaseInSpan {
		t.Fatalf("state = %+v", got)
	}

	ev = p.Feed("100%|██████████| 4/4")
	if ev.Kind != EventProgress || ev.Percent != 50 || ev.Started {
		t.Fatalf("second marker = %+v", ev)
	}

	ev = p.Feed("   ")
	if ev.Kind != EventPassAdvanced {
		t.Fatalf("blank in span = %+v", ev)
	}
	if got := p.State(); got.Pass != 1 || got.Phase != PhaseInSpan {
		t.Fatalf("state after blank = %+v", got)
	}

	ev = p.Feed(" 50%|█████     | 2/4")
	if ev.Percent != 75 {
		t.Fatalf("percent after pass advance = %d, want 75", ev.Percent)
	}

	ev = p.Feed("Done.")
	if ev.Kind != EventLine || ev.Text != "Done." {
		t.Fatalf("span end = %+v", ev)
	}
	if got := p.State(); got.Phase != PhaseIdle || got.Pass != 0 {
		t.Fatalf("state after span = %+v", got)
	}

	// A blank line while idle is forwarded.
	if ev := p.Feed(""); ev.Kind != EventLine || ev.Text != "" {
		t.Fatalf("idle blank = %+v", ev)
	}
	// The next span reports Started again.
	if ev := p.Feed("10%|"); !ev.Started {
		t.Fatalf("new span should report start: %+v", ev)
	}
}

func TestParserRoundsHalfToEvenAndClamps(t *testing.T) {
	tests := []struct {
		total, pass, n, want int
	}{
		{total: 4, pass: 0, n: 2, want: 0},   // 0.5
		{total: 4, pass: 0, n: 6, want: 2},   // 1.5
		{total: 4, pass: 0, n: 10, want: 2},  // 2.5
		{total: 3, pass: 1, n: 0, want: 33},  // 33.3
		{total: 1, pass: 3, n: 50, want: 100},
		{total: 0, pass: 0, n: 37, want: 37},
	}
	for _, tt := range tests {
		p := NewProgressParser(tt.total)
		p.state.Phase = PhaseInSpan
		p.state.Pass = tt.pass
		ev := p.Feed(strconv.Itoa(tt.n) + "%|")
		if ev.Percent != tt.want {
			t.Fatalf("total=%d pass=%d n=%d: got %d want %d", tt.total, tt.pass, tt.n, ev.Percent, tt.want)
		}
	}
}

func TestParserIgnoresPercentWithoutBar(t *testing.T) {
	p := NewProgressParser(1)
	if ev := p.Feed("Dice improved by 40% over baseline"); ev.Kind != EventLine {
		t.Fatalf("plain percentage should be forwarded: %+v", ev)
	}
}

func TestPasses(t *testing.T) {
	if Passes(3, 5) != 15 || Passes(0, 5) != 1 || Passes(1, 0) != 1 {
		t.Fatal("unexpected pass counts")
	}
}

func TestStringArgs(t *testing.T) {
	got := StringArgs("lyroi", "-d", 3, 0.5, true)
	want := []string{"lyroi", "-d", "3", "0.5", "true"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("StringArgs = %v", got)
	}
}
