package components

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func typeInto(p Palette, text string) Palette {
	for _, r := range text {
		p, _ = p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return p
}

func TestPaletteSubmitsTrimmedInput(t *testing.T) {
	t.Parallel()
	p := NewPalette()
	p.Open()
	p = typeInto(p, " stop ")
	p, cmd := p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if p.Visible() {
		t.Fatalf("palette should close on enter")
	}
	msg, ok := cmd().(PaletteSubmitMsg)
	if !ok || msg.Input != "stop" {
		t.Fatalf("unexpected submit msg: %#v", msg)
	}
}

func TestPaletteRecallsPreviousCommands(t *testing.T) {
	t.Parallel()
	p := NewPalette()
	for _, c := range []string{"ports", "export raw"} {
		p.Open()
		p = typeInto(p, c)
		p, _ = p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	}

	p.Open()
	p, _ = p.Update(tea.KeyMsg{Type: tea.KeyUp})
	if got := p.input.Value(); got != "export raw" {
		t.Fatalf("first recall = %q", got)
	}
	p, _ = p.Update(tea.KeyMsg{Type: tea.KeyUp})
	if got := p.input.Value(); got != "ports" {
		t.Fatalf("second recall = %q", got)
	}
	p, _ = p.Update(tea.KeyMsg{Type: tea.KeyDown})
	p, _ = p.Update(tea.KeyMsg{Type: tea.KeyDown})
	if got := p.input.Value(); got != "" {
		t.Fatalf("recall past newest should clear input, got %q", got)
	}
}

func TestPaletteEscCancels(t *testing.T) {
	t.Parallel()
	p := NewPalette()
	p.Open()
	p, cmd := p.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if p.Visible() {
		t.Fatalf("palette should close on esc")
	}
	if _, ok := cmd().(PaletteCancelMsg); !ok {
		t.Fatalf("expected cancel msg")
	}
}
