package conversation

import (
	"strings"
	"sync"
	"testing"
)

func TestSessionAppendOrder(t *testing.T) {
	s := NewSession()
	s.Append(NewTurn(RoleUser, "what is this?"))
	s.Append(NewTurn(RoleAssistant, "what do you notice?"), NewTurn(RoleAssistant, "look closer"))

	turns := s.All()
	if len(turns) != 3 || s.Len() != 3 {
		t.Fatalf("Expected 3 turns, got %d", len(turns))
	}
	if turns[0].Role != RoleUser || turns[2].Text != "look closer" {
		t.Errorf("Unexpected order: %+v", turns)
	}
}

func TestSessionAllReturnsCopy(t *testing.T) {
	s := NewSession()
	s.Append(NewTurn(RoleUser, "hi"))
	turns := s.All()
	turns[0].Text = "changed"
	if s.All()[0].Text != "hi" {
		t.Error("Session was modified through All()")
	}
}

func TestSessionMediaNotAliased(t *testing.T) {
	s := NewSession()
	media := []MediaRef{{MIMEType: "audio/wav", Bytes: 10}}
	s.Append(NewTurn(RoleUser, "", media...))
	media[0].Bytes = 99
	if s.All()[0].Media[0].Bytes != 10 {
		t.Error("Session shares media slice with caller")
	}
}

func TestSessionReset(t *testing.T) {
	s := NewSession()
	id := s.ID()
	s.Append(NewTurn(RoleUser, "hi"))
	s.Reset()
	if s.Len() != 0 {
		t.Errorf("Expected empty session, got %d", s.Len())
	}
	if s.ID() == id {
		t.Error("Expected new ID after reset")
	}
	if len(s.All()) != 0 {
		t.Error("Expected no turns after reset")
	}
}

func TestSessionConcurrent(t *testing.T) {
	s := NewSession()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Append(NewTurn(RoleUser, "x"))
				_ = s.All()
			}
		}()
	}
	wg.Wait()
	if s.Len() != 1000 {
		t.Errorf("Expected 1000 turns, got %d", s.Len())
	}
}

func TestTranscript(t *testing.T) {
	turns := []Turn{
		NewTurn(RoleUser, "Is this a circuit?", MediaRef{MIMEType: "audio/wav", Bytes: 44}),
		NewTurn(RoleAssistant, "What do you see connected to the battery?"),
	}
	out := Transcript("Lab session", turns)
	for _, want := range []string{"# Lab session", "**Student**", "**Tutor**", "audio/wav, 44 bytes", "battery"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in transcript:\n%s", want, out)
		}
	}
}
