package sim

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/pthm-cable/sandpile/config"
	"github.com/pthm-cable/sandpile/systems"
	"github.com/pthm-cable/sandpile/telemetry"
)

// recordReport feeds one avalanche to the collector, the hall of fame,
// the per-report bookmarks and avalanches.csv.
func (s *Simulation) recordReport(r systems.Report) {
	s.collector.Record(r)
	s.hall.Consider(s.drop, r)

	if err := s.output.WriteAvalanches(r); err != nil {
		slog.Error("failed to write avalanche", "error", err)
	}
	s.handleBookmarks(s.bookmarks.CheckReport(s.drop, r))
}

// flushTelemetry checks if the stats window should be flushed and handles
// bookmarks. With force set, a partial window is flushed too.
func (s *Simulation) flushTelemetry(force bool) {
	if !s.collector.ShouldFlush(s.drop) {
		if !force || s.drop%s.collector.WindowDrops() == 0 {
			return
		}
	}

	stats := s.collector.Flush(s.drop, telemetry.PileState{
		Mass:       s.lat.TotalGrains(),
		EmptyCells: s.lat.EmptyCells(),
	})
	perfStats := s.perfCollector.Stats()

	if s.statsCallback != nil {
		s.statsCallback(stats)
	}

	if s.logStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	if err := s.output.WriteTelemetry(stats); err != nil {
		slog.Error("failed to write telemetry", "error", err)
	}
	if err := s.output.WritePerf(perfStats, stats.WindowEndDrop); err != nil {
		slog.Error("failed to write perf", "error", err)
	}

	s.handleBookmarks(s.bookmarks.Check(stats))
}

// handleBookmarks logs, records and snapshots each bookmark.
func (s *Simulation) handleBookmarks(bookmarks []telemetry.Bookmark) {
	for _, bm := range bookmarks {
		if s.logStats {
			bm.LogBookmark()
		}

		if err := s.output.WriteBookmark(bm); err != nil {
			slog.Error("failed to write bookmark", "error", err)
		}

		if s.output.Dir() != "" {
			s.saveSnapshot(&bm)
		}
	}
}

// saveSnapshot captures the pile and saves it under the output dir.
func (s *Simulation) saveSnapshot(bookmark *telemetry.Bookmark) {
	snapshot := telemetry.CaptureSnapshot(s.lat, s.drop, s.engine.Escaped())
	snapshot.RunID = s.runID
	snapshot.RNGSeed = s.seed
	snapshot.Bookmark = bookmark

	path, err := s.output.SaveSnapshot(snapshot)
	if err != nil {
		slog.Error("failed to save snapshot", "error", err)
		return
	}

	slog.Debug("snapshot saved", "path", path, "drop", s.drop)
}

// flushStore writes pending reports to the store.
func (s *Simulation) flushStore(ctx context.Context) {
	if s.db == nil || len(s.pending) == 0 {
		return
	}
	if err := s.db.InsertAvalanches(ctx, s.runID, s.pending); err != nil {
		slog.Error("failed to store avalanches", "error", err, "count", len(s.pending))
	}
	s.pending = s.pending[:0]
}

// writeCharts writes the plots and charts the output section enables.
func writeCharts(dir string, cfg *config.Config, h *telemetry.Histograms) error {
	if cfg.Output.Plots {
		written, err := telemetry.PlotHistograms(h, dir)
		if err != nil {
			return err
		}
		slog.Debug("plots written", "count", len(written))
	}
	if cfg.Output.Charts {
		if err := telemetry.RenderCharts(h, filepath.Join(dir, "charts.html")); err != nil {
			return err
		}
	}
	return nil
}
