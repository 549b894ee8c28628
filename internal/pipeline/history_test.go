package pipeline

import (
	"testing"
	"time"
)

func TestHistoryEvictsOldestAtCapacity(t *testing.T) {
	h := NewSampleHistory(5)

	for i := 0; i < 8; i++ {
		h.Append(sampleAt(i, "beacon-1", -60-i, 2.0))
	}

	if h.Len() != 5 {
		t.Fatalf("history length = %d, want 5", h.Len())
	}

	// Остались только 5 последних измерений
	window := h.Window(time.Hour)
	if window[0].Rssi != -63 {
		t.Errorf("oldest surviving rssi = %d, want -63", window[0].Rssi)
	}
	if window[len(window)-1].Rssi != -67 {
		t.Errorf("newest rssi = %d, want -67", window[len(window)-1].Rssi)
	}
}

func TestHistoryWindowFiltersByDuration(t *testing.T) {
	h := NewSampleHistory(100)

	h.Append(sampleAt(0, "beacon-1", -60, 2.0))
	h.Append(sampleAt(5, "beacon-1", -61, 2.0))
	h.Append(sampleAt(60, "beacon-1", -62, 2.0))

	window := h.Window(30 * time.Second)
	if len(window) != 1 {
		t.Fatalf("window length = %d, want 1", len(window))
	}
	if window[0].Rssi != -62 {
		t.Errorf("windowed rssi = %d, want -62", window[0].Rssi)
	}
}

func TestHistoryWindowEmpty(t *testing.T) {
	h := NewSampleHistory(10)

	if window := h.Window(time.Minute); window != nil {
		t.Errorf("empty history window must be nil, got %v", window)
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewSampleHistory(10)

	h.Append(sampleAt(0, "beacon-1", -60, 2.0))
	h.Clear()

	if h.Len() != 0 {
		t.Errorf("cleared history length = %d, want 0", h.Len())
	}
}
