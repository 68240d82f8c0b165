package command

import (
	"testing"
	"time"
)

func TestParseRoundTrip(t *testing.T) {
	for _, c := range All() {
		got, err := Parse(c.String())
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", c.String(), err)
		}
		if got != c {
			t.Errorf("Parse(%q) = %v, want %v", c.String(), got, c)
		}
	}
}

func TestParseAliases(t *testing.T) {
	tests := []struct {
		input string
		want  Command
	}{
		{"BEGIN_STREAMING", BeginStreaming},
		{"reset-background", ResetBackground},
		{" exit ", Exit},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if _, err := Parse("launch_rocket"); err == nil {
		t.Error("Parse(unknown) should fail")
	}
}

func TestInvalidCommandString(t *testing.T) {
	if Command(42).Valid() {
		t.Error("Command(42) should be invalid")
	}
	if got := Command(42).String(); got != "command(42)" {
		t.Errorf("String() = %q", got)
	}
}

func TestChannelOrder(t *testing.T) {
	ch := NewChannel()
	ch.Send(BeginAcquisition)
	ch.Send(BeginStreaming)
	ch.Send(Exit)

	for _, want := range []Command{BeginAcquisition, BeginStreaming, Exit} {
		got, ok := ch.TryReceive()
		if !ok || got != want {
			t.Fatalf("TryReceive() = %v, %v; want %v", got, ok, want)
		}
	}

	if _, ok := ch.ReceiveWait(5 * time.Millisecond); ok {
		t.Error("ReceiveWait on empty channel returned a command")
	}
}
