package display

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestModelEnterSendsInput(t *testing.T) {
	inputCh := make(chan string, 1)
	var echoed string
	m := newModel(nil, inputCh, make(chan struct{}), func(s string) { echoed = s })
	m.input.SetValue("Hello there")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if got := <-inputCh; got != "Hello there" {
		t.Fatalf("input = %q", got)
	}
	if v := next.(model).input.Value(); v != "" {
		t.Errorf("input not reset: %q", v)
	}
	if cmd == nil {
		t.Fatal("expected an echo command")
	}
	cmd()
	if echoed != "Hello there" {
		t.Errorf("echo = %q", echoed)
	}
}

func TestModelEnterIgnoresBlank(t *testing.T) {
	inputCh := make(chan string, 1)
	m := newModel(nil, inputCh, make(chan struct{}), nil)
	m.input.SetValue("   ")

	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Error("blank input produced a command")
	}
	if len(inputCh) != 0 {
		t.Error("blank input was sent")
	}
}

func TestStatusBar(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   []string
	}{
		{
			name:   "idle",
			status: Status{Engine: "tone", GainDB: 0, Focus: "none"},
			want:   []string{"engine: tone", "idle", "gain: +0.00 dB", "focus: none", "queue: 0"},
		},
		{
			name:   "speaking",
			status: Status{Engine: "azure", Speaking: true, PlayingID: "69609650", GainDB: 4.5, Focus: "granted", Queue: 2},
			want:   []string{"engine: azure", "speaking 69609650", "gain: +4.50 dB", "focus: granted", "queue: 2"},
		},
		{
			name:   "unknown engine",
			status: Status{},
			want:   []string{"engine: -"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := tt.status
			m := newModel(func() Status { return st }, nil, nil, nil)
			m.width = 120
			bar := m.renderBar()
			for _, w := range tt.want {
				if !strings.Contains(bar, w) {
					t.Errorf("bar %q missing %q", bar, w)
				}
			}
		})
	}
}

func TestTickRefreshesStatus(t *testing.T) {
	calls := 0
	m := newModel(func() Status {
		calls++
		return Status{Speaking: calls > 1, PlayingID: "7"}
	}, nil, nil, nil)
	if m.titleStr() != "ttsplay" {
		t.Fatalf("title = %q", m.titleStr())
	}

	next, _ := m.Update(tickMsg{})
	if got := next.(model).titleStr(); got != "ttsplay: speaking 7" {
		t.Errorf("title = %q", got)
	}
}

func TestRenderBannerCentres(t *testing.T) {
	narrow := renderBanner(0)
	wide := renderBanner(200)
	if !strings.HasPrefix(wide, "  ") {
		t.Error("wide banner not padded")
	}
	if len(wide) <= len(narrow) {
		t.Errorf("wide banner (%d bytes) not longer than narrow (%d)", len(wide), len(narrow))
	}
}

func TestReadLines(t *testing.T) {
	ch := ReadLines(context.Background(), strings.NewReader("Hello\n\n  /stop  \nbye"))
	var got []string
	for line := range ch {
		got = append(got, line)
	}
	want := []string{"Hello", "/stop", "bye"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %q, want %q", got, want)
	}
}

func TestWaitReadyGivesUp(t *testing.T) {
	ui := NewUI(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if ui.WaitReady(ctx) {
		t.Fatal("WaitReady reported ready with a cancelled context")
	}

	close(ui.readyCh)
	if !ui.WaitReady(context.Background()) {
		t.Fatal("WaitReady did not see the ready signal")
	}
}

func TestRecallPreviousLines(t *testing.T) {
	inputCh := make(chan string, 4)
	var m tea.Model = newModel(nil, inputCh, nil, nil)
	for _, line := range []string{"first", "second", "second"} {
		mm := m.(model)
		mm.input.SetValue(line)
		m, _ = mm.Update(tea.KeyMsg{Type: tea.KeyEnter})
	}
	if got := len(m.(model).recall); got != 2 {
		t.Fatalf("recall holds %d lines, want 2 (repeats collapse)", got)
	}

	steps := []struct {
		key  tea.KeyType
		want string
	}{
		{tea.KeyUp, "second"},
		{tea.KeyUp, "first"},
		{tea.KeyUp, "first"},
		{tea.KeyDown, "second"},
		{tea.KeyDown, ""},
		{tea.KeyDown, ""},
	}
	for i, s := range steps {
		m, _ = m.Update(tea.KeyMsg{Type: s.key})
		if got := m.(model).input.Value(); got != s.want {
			t.Fatalf("step %d: input = %q, want %q", i, got, s.want)
		}
	}
}
