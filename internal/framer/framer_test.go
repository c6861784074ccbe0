package framer

import (
	"bytes"
	"testing"
)

func TestFeedSingleLine(t *testing.T) {
	f := New(NoLimit)
	events := f.Feed([]byte("HELO host\r\n"))

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Overflow {
		t.Fatal("unexpected overflow")
	}
	if !bytes.Equal(events[0].Line, []byte("HELO host")) {
		t.Errorf("line = %q, want %q", events[0].Line, "HELO host")
	}
}

func TestFeedMultipleChunks(t *testing.T) {
	f := New(NoLimit)
	var events []Event

	for _, chunk := range []string{"MAIL FR", "OM:<a@", "b>\r\n"} {
		events = append(events, f.Feed([]byte(chunk))...)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !bytes.Equal(events[0].Line, []byte("MAIL FROM:<a@b>")) {
		t.Errorf("line = %q", events[0].Line)
	}
}

func TestBareLFDoesNotTerminate(t *testing.T) {
	f := New(NoLimit)
	events := f.Feed([]byte("one\ntwo\r\n"))

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !bytes.Equal(events[0].Line, []byte("one\ntwo")) {
		t.Errorf("line = %q, want bare LF preserved in line content", events[0].Line)
	}
}

func TestBareCRHeldForNextByte(t *testing.T) {
	f := New(NoLimit)
	// A CR not followed by LF is an ordinary buffered byte.
	events := f.Feed([]byte("a\rb\r\n"))

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !bytes.Equal(events[0].Line, []byte("a\rb")) {
		t.Errorf("line = %q, want %q", events[0].Line, "a\rb")
	}
}

func TestCRSplitAcrossChunks(t *testing.T) {
	f := New(NoLimit)
	var events []Event
	events = append(events, f.Feed([]byte("abc\r"))...)
	events = append(events, f.Feed([]byte("\n"))...)

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !bytes.Equal(events[0].Line, []byte("abc")) {
		t.Errorf("line = %q, want %q", events[0].Line, "abc")
	}
}

func TestPOP3LineBoundary(t *testing.T) {
	// 87 bytes total including CRLF: 85 bytes of content + 2-byte CRLF.
	line := bytes.Repeat([]byte("a"), 85)

	f := New(85)
	events := f.Feed(append(append([]byte{}, line...), "\r\n"...))

	if len(events) != 1 || events[0].Overflow {
		t.Fatalf("expected exactly-fitting line to be accepted, got %+v", events)
	}
}

func TestPOP3LineOverflow(t *testing.T) {
	// 88 bytes total including CRLF: 86 bytes of content.
	line := bytes.Repeat([]byte("a"), 86)

	f := New(85)
	events := f.Feed(append(append([]byte{}, line...), "\r\n"...))

	if len(events) != 1 || !events[0].Overflow {
		t.Fatalf("expected overflow event, got %+v", events)
	}
}

func TestSMTPCommandLineBoundary(t *testing.T) {
	line := bytes.Repeat([]byte("a"), 1000)

	f := New(1000)
	events := f.Feed(append(append([]byte{}, line...), "\r\n"...))

	if len(events) != 1 || events[0].Overflow {
		t.Fatalf("expected 1000-byte line to be accepted, got %+v", events)
	}
}

func TestSMTPCommandLineOverflow(t *testing.T) {
	line := bytes.Repeat([]byte("a"), 1001)

	f := New(1000)
	events := f.Feed(append(append([]byte{}, line...), "\r\n"...))

	if len(events) != 1 || !events[0].Overflow {
		t.Fatalf("expected overflow event, got %+v", events)
	}
}

func TestOverflowLatchDiscardsUntilCRLF(t *testing.T) {
	f := New(4)
	events := f.Feed([]byte("toolongline\r\nshort\r\n"))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].Overflow {
		t.Error("expected first event to be overflow")
	}
	if events[1].Overflow || !bytes.Equal(events[1].Line, []byte("shor")) {
		t.Errorf("expected second line truncated to MaxLen, got %+v", events[1])
	}
}

func TestArbitraryChunkingProducesSameEvents(t *testing.T) {
	data := []byte("HELO a\r\nMAIL FROM:<x@y>\r\nRCPT TO:<z@y>\r\nDATA\r\n")

	whole := New(NoLimit).Feed(data)

	for chunkSize := 1; chunkSize <= len(data); chunkSize++ {
		f := New(NoLimit)
		var chunked []Event
		for i := 0; i < len(data); i += chunkSize {
			end := i + chunkSize
			if end > len(data) {
				end = len(data)
			}
			chunked = append(chunked, f.Feed(data[i:end])...)
		}

		if len(chunked) != len(whole) {
			t.Fatalf("chunkSize=%d: got %d events, want %d", chunkSize, len(chunked), len(whole))
		}
		for i := range whole {
			if chunked[i].Overflow != whole[i].Overflow || !bytes.Equal(chunked[i].Line, whole[i].Line) {
				t.Fatalf("chunkSize=%d: event %d = %+v, want %+v", chunkSize, i, chunked[i], whole[i])
			}
		}
	}
}
