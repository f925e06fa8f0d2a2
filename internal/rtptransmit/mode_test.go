package rtptransmit

import "testing"

func TestResolveModeEmptyDestinationIsRequest(t *testing.T) {
	m, err := ResolveMode("")
	if err != nil {
		t.Fatalf("ResolveMode: %v", err)
	}
	if m != ModeRequest {
		t.Errorf("ResolveMode(\"\") = %v, want ModeRequest", m)
	}
}

func TestResolveModeMulticast(t *testing.T) {
	m, err := ResolveMode("239.1.2.3:5004")
	if err != nil {
		t.Fatalf("ResolveMode: %v", err)
	}
	if m != ModeMulticast {
		t.Errorf("ResolveMode(multicast) = %v, want ModeMulticast", m)
	}
}

func TestResolveModeUnicastFallback(t *testing.T) {
	m, err := ResolveMode("203.0.113.5:5004")
	if err != nil {
		t.Fatalf("ResolveMode: %v", err)
	}
	if m != ModeUnicast {
		t.Errorf("ResolveMode(unicast) = %v, want ModeUnicast", m)
	}
}

func TestResolveModeRejectsMalformed(t *testing.T) {
	if _, err := ResolveMode("not-a-host-port"); err == nil {
		t.Fatal("expected error for malformed destination, got nil")
	}
}

func TestParseModeRejectsUnknown(t *testing.T) {
	if _, err := ParseMode("bogus"); err == nil {
		t.Fatal("expected error for unknown mode string, got nil")
	}
}

func TestParseModeKnownValues(t *testing.T) {
	cases := map[string]Mode{
		"unicast":   ModeUnicast,
		"broadcast": ModeBroadcast,
		"multicast": ModeMulticast,
		"request":   ModeRequest,
	}
	for s, want := range cases {
		got, err := ParseMode(s)
		if err != nil {
			t.Errorf("ParseMode(%q): %v", s, err)
			continue
		}
		if got != want {
			t.Errorf("ParseMode(%q) = %v, want %v", s, got, want)
		}
	}
}
