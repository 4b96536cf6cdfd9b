// Package sentence splits streamed LLM text into sentence-sized units that can
// be forwarded to speech synthesis while the rest of the reply is still being
// generated.
package sentence

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Segment 表示一个可以送去语音合成的句子片段。
type Segment struct {
	// Text is the trimmed sentence text. Never empty for emitted segments.
	Text string
	// Raw is the exact slice of the stream this segment covers, including the
	// whitespace that separated it from the next segment.
	Raw string
	// End marks the final segment of a stream.
	End bool
}

// Segmenter accumulates text increments and emits complete sentences.
// A sentence boundary is a '.', '?' or '!' immediately followed by whitespace.
// Segmenter is not safe for concurrent use.
type Segmenter struct {
	buf      strings.Builder
	consumed strings.Builder
	emitted  int
}

// New returns an empty Segmenter.
func New() *Segmenter {
	return &Segmenter{}
}

// Push appends text to the buffer and returns every complete sentence found,
// in order. The trailing fragment stays buffered until more text arrives or
// Flush is called.
func (s *Segmenter) Push(text string) []Segment {
	if text == "" {
		return nil
	}
	s.buf.WriteString(text)

	content := s.buf.String()
	var out []Segment
	start := 0
	for i := 0; i < len(content); i++ {
		if !isTerminal(content[i]) {
			continue
		}

		end := skipSpace(content, i+1)
		if end == i+1 {
			continue
		}

		out = append(out, Segment{
			Text: strings.TrimSpace(content[start : i+1]),
			Raw:  content[start:end],
		})
		s.consumed.WriteString(content[start:end])
		start = end
		i = end - 1
	}

	if start > 0 {
		s.buf.Reset()
		s.buf.WriteString(content[start:])
	}

	s.emitted += len(out)
	return out
}

// Flush drains the buffer. The returned segment always carries the raw
// residue; ok is false when the residue is only whitespace, in which case the
// segment must not be synthesized.
func (s *Segmenter) Flush() (seg Segment, ok bool) {
	raw := s.buf.String()
	s.buf.Reset()
	s.consumed.WriteString(raw)

	seg = Segment{Text: strings.TrimSpace(raw), Raw: raw, End: true}
	if seg.Text == "" {
		return seg, false
	}
	s.emitted++
	return seg, true
}

// Pending returns the buffered, not yet emitted text.
func (s *Segmenter) Pending() string {
	return s.buf.String()
}

// Consumed returns all text that has left the buffer, segment text and
// separators alike. After Flush it equals the full input stream.
func (s *Segmenter) Consumed() string {
	return s.consumed.String()
}

// Emitted reports how many non-empty segments were produced so far. Zero after
// Flush means the stream carried no content.
func (s *Segmenter) Emitted() int {
	return s.emitted
}

// Split segments a complete text in one call. The last segment has End set.
func Split(text string) []Segment {
	s := New()
	segments := s.Push(text)
	if last, ok := s.Flush(); ok {
		return append(segments, last)
	}
	if len(segments) > 0 {
		segments[len(segments)-1].End = true
	}
	return segments
}

func isTerminal(c byte) bool {
	return c == '.' || c == '?' || c == '!'
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}
