package tmuxbridge

import (
	"encoding/json"
	"testing"
)

func TestResizePayloadParsing(t *testing.T) {
	var rp resizePayload
	if err := json.Unmarshal([]byte(`{"cols":80,"rows":24}`), &rp); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	if rp.Cols != 80 || rp.Rows != 24 {
		t.Fatalf("resizePayload = %+v, want cols=80 rows=24", rp)
	}
}

func TestFeedIdentity(t *testing.T) {
	f := New("test-session")
	if f.FeedID() != 0x00 {
		t.Fatalf("FeedID() = %v, want TerminalOutput", f.FeedID())
	}
	if f.Name() != "terminal" {
		t.Fatalf("Name() = %q, want terminal", f.Name())
	}
}

func TestInputSinkCapacity(t *testing.T) {
	f := New("test-session")
	if cap(f.input) != InputChannelSize {
		t.Fatalf("input channel capacity = %d, want %d", cap(f.input), InputChannelSize)
	}
}
