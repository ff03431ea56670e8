package file

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"netqos/internal/core/domain"
)

var header = []string{
	"timestamp", "total_mbps", "video_mbps", "download_mbps", "download_limit_mbps",
	"loss_percent", "delay_ms", "mode", "event",
}

// TickLog appends one CSV row per tick and keeps the latest sample in a JSON
// file that is replaced atomically.
type TickLog struct {
	csvPath      string
	snapshotPath string

	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

func NewTickLog(csvPath, snapshotPath string) (*TickLog, error) {
	f, err := os.OpenFile(csvPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tick log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat tick log: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write tick log header: %w", err)
		}
		w.Flush()
	}

	return &TickLog{
		csvPath:      csvPath,
		snapshotPath: snapshotPath,
		file:         f,
		w:            w,
	}, nil
}

func (l *TickLog) Record(ctx context.Context, rec domain.TickRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.w.Write(row(rec)); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

// Snapshot writes the sample to a temp file beside the target and renames it,
// so readers never see a partial document.
func (l *TickLog) Snapshot(ctx context.Context, sample domain.MetricsSample) error {
	data, err := json.MarshalIndent(sample.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.snapshotPath), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.snapshotPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// RecentTicks reads the last limit rows back from the CSV file.
func (l *TickLog) RecentTicks(ctx context.Context, limit int) ([]domain.TickRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tick log: %w", err)
		}
		if rec[0] == header[0] {
			continue
		}
		rows = append(rows, rec)
		if limit > 0 && len(rows) > limit {
			rows = rows[1:]
		}
	}

	out := make([]domain.TickRecord, 0, len(rows))
	for _, rec := range rows {
		out = append(out, parseRow(rec))
	}
	return out, nil
}

func (l *TickLog) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	return l.file.Close()
}

// EventTag is the event column value: the engine event, suffixed with the
// severity label when it is not normal.
func EventTag(rec domain.TickRecord) string {
	if rec.Severity == "" || rec.Severity == domain.SeverityNormal {
		return string(rec.Event)
	}
	return string(rec.Event) + ":" + string(rec.Severity)
}

func row(rec domain.TickRecord) []string {
	s := rec.Sample
	return []string{
		s.Timestamp.UTC().Format(time.RFC3339),
		formatFloat(s.TotalMbps()),
		formatFloat(s.VideoMbps),
		formatFloat(s.DownloadMbps),
		formatFloat(rec.DownloadLimitMbps),
		formatFloat(s.VideoLossPercent),
		formatFloat(s.EstimatedDelayMs),
		string(rec.Mode),
		EventTag(rec),
	}
}

func parseRow(rec []string) domain.TickRecord {
	ts, _ := time.Parse(time.RFC3339, rec[0])
	event, severity, _ := strings.Cut(rec[8], ":")
	if severity == "" {
		severity = string(domain.SeverityNormal)
	}
	return domain.TickRecord{
		Sample: domain.MetricsSample{
			Timestamp:        ts,
			VideoMbps:        parseFloat(rec[2]),
			DownloadMbps:     parseFloat(rec[3]),
			VideoLossPercent: parseFloat(rec[5]),
			EstimatedDelayMs: parseFloat(rec[6]),
		},
		DownloadLimitMbps: parseFloat(rec[4]),
		Mode:              domain.Mode(rec[7]),
		Event:             domain.Event(event),
		Severity:          domain.Severity(severity),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
