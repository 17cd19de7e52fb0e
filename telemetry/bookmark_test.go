package telemetry

import (
	"testing"

	"github.com/pthm-cable/sandpile/systems"
)

var testThresholds = BookmarkThresholds{
	RecordMinGrains:    5,
	EscapeBurst:        10,
	SteadyStateCV:      0.01,
	SteadyStateWindows: 3,
}

func hasBookmark(bookmarks []Bookmark, typ BookmarkType) bool {
	for _, bm := range bookmarks {
		if bm.Type == typ {
			return true
		}
	}
	return false
}

func TestBookmarkDetector_RecordAvalanche(t *testing.T) {
	bd := NewBookmarkDetector(10, testThresholds)

	// Small records below the floor are tracked but not reported.
	if got := bd.CheckReport(1, systems.Report{TotalGrainsInvolved: 3}); len(got) != 0 {
		t.Errorf("unexpected bookmarks below floor: %v", got)
	}

	got := bd.CheckReport(2, systems.Report{TotalGrainsInvolved: 8, TotalMovement: 20})
	if !hasBookmark(got, BookmarkRecordAvalanche) {
		t.Fatal("expected record_avalanche bookmark")
	}
	if got[0].Drop != 2 {
		t.Errorf("drop = %d, want 2", got[0].Drop)
	}

	// Equal size is not a new record.
	if got := bd.CheckReport(3, systems.Report{TotalGrainsInvolved: 8}); hasBookmark(got, BookmarkRecordAvalanche) {
		t.Error("tie reported as record")
	}
}

func TestBookmarkDetector_Timeout(t *testing.T) {
	bd := NewBookmarkDetector(10, testThresholds)
	got := bd.CheckReport(7, systems.Report{AvalancheID: 7, TotalGrainsInvolved: 1, Incomplete: true, Passes: 100})
	if !hasBookmark(got, BookmarkStabilizationTimeout) {
		t.Error("expected stabilization_timeout bookmark")
	}
}

func TestBookmarkDetector_EscapeBurst(t *testing.T) {
	bd := NewBookmarkDetector(10, testThresholds)

	if got := bd.Check(WindowStats{WindowEndDrop: 100, Escaped: 9}); hasBookmark(got, BookmarkEscapeBurst) {
		t.Error("burst reported below threshold")
	}
	if got := bd.Check(WindowStats{WindowEndDrop: 200, Escaped: 10}); !hasBookmark(got, BookmarkEscapeBurst) {
		t.Error("expected escape_burst bookmark")
	}
}

func TestBookmarkDetector_SteadyState(t *testing.T) {
	bd := NewBookmarkDetector(5, testThresholds)

	// Growing pile: no steady state.
	for i := 1; i <= 5; i++ {
		if got := bd.Check(WindowStats{WindowEndDrop: i * 100, PileMass: i * 100}); hasBookmark(got, BookmarkSteadyState) {
			t.Fatalf("steady state reported while growing (window %d)", i)
		}
	}

	// Flat pile: fires after the history flattens and the window count is met.
	fired := 0
	for i := 6; i <= 20; i++ {
		got := bd.Check(WindowStats{WindowEndDrop: i * 100, PileMass: 1000})
		if hasBookmark(got, BookmarkSteadyState) {
			fired++
		}
	}
	if fired != 1 {
		t.Errorf("steady_state fired %d times, want 1", fired)
	}
}
