package sentence

import (
	"math/rand"
	"reflect"
	"strings"
	"testing"
)

const greeting = "Hi there. How are you? Great!"

// feed pushes chunks and returns the texts emitted before and at Flush.
func feed(chunks []string) (before []string, final []string, consumed string) {
	s := New()
	for _, chunk := range chunks {
		for _, seg := range s.Push(chunk) {
			if seg.End {
				panic("Push must not emit an end segment")
			}
			before = append(before, seg.Text)
		}
	}
	if seg, ok := s.Flush(); ok {
		final = append(final, seg.Text)
	}
	return before, final, s.Consumed()
}

func randomSplit(r *rand.Rand, text string) []string {
	var chunks []string
	for len(text) > 0 {
		n := 1 + r.Intn(6)
		if n > len(text) {
			n = len(text)
		}
		chunks = append(chunks, text[:n])
		text = text[n:]
	}
	return chunks
}

func TestSegmenterGreetingAnySplit(t *testing.T) {
	wantBefore := []string{"Hi there.", "How are you?"}
	wantFinal := []string{"Great!"}

	// every two-cut split of the input
	for i := 0; i <= len(greeting); i++ {
		for j := i; j <= len(greeting); j++ {
			chunks := []string{greeting[:i], greeting[i:j], greeting[j:]}
			before, final, _ := feed(chunks)
			if !reflect.DeepEqual(before, wantBefore) {
				t.Fatalf("split %d/%d: before end got %q want %q", i, j, before, wantBefore)
			}
			if !reflect.DeepEqual(final, wantFinal) {
				t.Fatalf("split %d/%d: at end got %q want %q", i, j, final, wantFinal)
			}
		}
	}

	// token by token
	before, final, _ := feed(strings.Split(greeting, ""))
	if !reflect.DeepEqual(before, wantBefore) || !reflect.DeepEqual(final, wantFinal) {
		t.Fatalf("char split: got %q + %q", before, final)
	}
}

func TestSegmenterReconstructsInput(t *testing.T) {
	inputs := []string{
		greeting,
		"  leading space. Then more!  Trailing   ",
		"No punctuation at all",
		"Wait... what?! Really.\nNew line.\tTab? yes",
		"Version 3.5 is out. Price is $4.99! ok",
		"Multibyte café. Ünïcode? Yes.",
		"",
		"   ",
	}

	r := rand.New(rand.NewSource(42))
	for _, input := range inputs {
		for round := 0; round < 50; round++ {
			chunks := randomSplit(r, input)
			before, final, consumed := feed(chunks)
			if consumed != input {
				t.Fatalf("reconstruction mismatch for %q: got %q", input, consumed)
			}
			for _, text := range append(before, final...) {
				if strings.TrimSpace(text) == "" || text != strings.TrimSpace(text) {
					t.Fatalf("segment %q of %q is not trimmed or is empty", text, input)
				}
			}
		}
	}
}

func TestSegmenterEmptyStream(t *testing.T) {
	s := New()
	if seg, ok := s.Flush(); ok {
		t.Fatalf("empty stream emitted %+v", seg)
	}
	if s.Emitted() != 0 {
		t.Fatalf("expected zero emitted segments, got %d", s.Emitted())
	}

	s = New()
	s.Push("   \n ")
	if _, ok := s.Flush(); ok {
		t.Fatal("whitespace-only stream must not emit a segment")
	}
	if s.Emitted() != 0 {
		t.Fatalf("expected zero emitted segments, got %d", s.Emitted())
	}
}

func TestSegmenterDoesNotSplitWithoutWhitespace(t *testing.T) {
	s := New()
	if got := s.Push("Pi is 3.14 and e is 2.71"); len(got) != 0 {
		t.Fatalf("unexpected segments %+v", got)
	}
	if got := s.Push(" and counting?"); len(got) != 0 {
		t.Fatalf("terminal at buffer end must wait for whitespace, got %+v", got)
	}
	got := s.Push(" Sure.")
	if len(got) != 1 || got[0].Text != "Pi is 3.14 and e is 2.71 and counting?" {
		t.Fatalf("unexpected segments %+v", got)
	}
	if s.Pending() != "Sure." {
		t.Fatalf("unexpected pending %q", s.Pending())
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		in   string
		want []Segment
	}{
		{"", nil},
		{"One.", []Segment{{Text: "One.", Raw: "One.", End: true}}},
		{"One. Two", []Segment{{Text: "One.", Raw: "One. "}, {Text: "Two", Raw: "Two", End: true}}},
		{"One! Two? ", []Segment{{Text: "One!", Raw: "One! "}, {Text: "Two?", Raw: "Two? ", End: true}}},
	}

	for _, tt := range tests {
		got := Split(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("Split(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
