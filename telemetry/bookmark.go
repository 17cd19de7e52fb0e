package telemetry

import (
	"fmt"
	"log/slog"

	"github.com/pthm-cable/sandpile/systems"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkRecordAvalanche      BookmarkType = "record_avalanche"
	BookmarkStabilizationTimeout BookmarkType = "stabilization_timeout"
	BookmarkEscapeBurst          BookmarkType = "escape_burst"
	BookmarkSteadyState          BookmarkType = "steady_state"
)

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type" json:"type"`
	Drop        int          `csv:"drop" json:"drop"`
	Description string       `csv:"description" json:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"drop", b.Drop,
		"description", b.Description,
	)
}

// BookmarkThresholds configures detection.
type BookmarkThresholds struct {
	RecordMinGrains    int     // records below this involvement are ignored
	EscapeBurst        int     // escapes in one window
	SteadyStateCV      float64 // pile mass coefficient of variation
	SteadyStateWindows int     // consecutive windows under the CV threshold
}

// BookmarkDetector detects interesting moments in a run.
type BookmarkDetector struct {
	thresholds BookmarkThresholds

	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	// State tracking
	recordGrains       int  // largest involvement seen so far
	steadyWindowsCount int  // consecutive low-variance windows
	steadyReported     bool // steady state is reported once per run
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int, th BookmarkThresholds) *BookmarkDetector {
	if historySize < 3 {
		historySize = 3 // minimum for steady-state detection
	}
	if th.SteadyStateWindows < 1 {
		th.SteadyStateWindows = 1
	}
	return &BookmarkDetector{
		thresholds:  th,
		history:     make([]WindowStats, historySize),
		historySize: historySize,
	}
}

// CheckReport inspects one avalanche as it completes.
func (bd *BookmarkDetector) CheckReport(drop int, r systems.Report) []Bookmark {
	var bookmarks []Bookmark

	if r.Incomplete {
		bookmarks = append(bookmarks, Bookmark{
			Type:        BookmarkStabilizationTimeout,
			Drop:        drop,
			Description: fmt.Sprintf("Avalanche %d hit the pass budget after %d passes", r.AvalancheID, r.Passes),
		})
	}

	if r.TotalGrainsInvolved > bd.recordGrains {
		prev := bd.recordGrains
		bd.recordGrains = r.TotalGrainsInvolved
		if r.TotalGrainsInvolved >= bd.thresholds.RecordMinGrains {
			bookmarks = append(bookmarks, Bookmark{
				Type:        BookmarkRecordAvalanche,
				Drop:        drop,
				Description: fmt.Sprintf("Record avalanche: %d grains (previous %d), movement %d", r.TotalGrainsInvolved, prev, r.TotalMovement),
			})
		}
	}

	return bookmarks
}

// Check analyzes the latest window and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	if b := bd.checkEscapeBurst(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	bd.addToHistory(stats)

	if b := bd.checkSteadyState(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []WindowStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

func (bd *BookmarkDetector) checkEscapeBurst(stats WindowStats) *Bookmark {
	if bd.thresholds.EscapeBurst <= 0 || stats.Escaped < bd.thresholds.EscapeBurst {
		return nil
	}
	return &Bookmark{
		Type:        BookmarkEscapeBurst,
		Drop:        stats.WindowEndDrop,
		Description: fmt.Sprintf("%d grains escaped in %d avalanches", stats.Escaped, stats.Avalanches),
	}
}

// checkSteadyState fires once when the pile mass over the history has been
// flat for the configured number of consecutive windows.
func (bd *BookmarkDetector) checkSteadyState(stats WindowStats) *Bookmark {
	if bd.steadyReported {
		return nil
	}
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	masses := make([]float64, len(history))
	for i, h := range history {
		masses[i] = float64(h.PileMass)
	}
	cv := CoefficientOfVariation(masses)
	if stats.PileMass > 0 && cv < bd.thresholds.SteadyStateCV {
		bd.steadyWindowsCount++
	} else {
		bd.steadyWindowsCount = 0
	}

	if bd.steadyWindowsCount < bd.thresholds.SteadyStateWindows {
		return nil
	}
	bd.steadyReported = true
	return &Bookmark{
		Type:        BookmarkSteadyState,
		Drop:        stats.WindowEndDrop,
		Description: fmt.Sprintf("Pile mass steady at %d grains (cv %.4f over %d windows)", stats.PileMass, cv, len(history)),
	}
}
