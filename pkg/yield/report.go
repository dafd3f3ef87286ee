package yield

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zero-network/txexporter/pkg/files"
)

var csvHeader = []string{"date", "amount", "moving_avg", "daily_change", "weekly_change"}

// ReportPattern matches saved yield reports.
const ReportPattern = "clny_yield_*.csv"

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOpt(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func parseOpt(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// WriteCSV writes rows as date,amount,moving_avg,daily_change,weekly_change. Absent values are empty cells.
func WriteCSV(w io.Writer, rows []DailyRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{r.Date, formatFloat(r.Amount), formatOpt(r.MovingAvg), formatOpt(r.DailyChange), formatOpt(r.WeeklyChange)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile saves rows to path, creating the directory.
func WriteFile(path string, rows []DailyRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create yield dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	err = WriteCSV(bw, rows)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadCSV parses a saved report.
func ReadCSV(r io.Reader) ([]DailyRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, h := range csvHeader[:2] {
		if _, ok := idx[h]; !ok {
			return nil, fmt.Errorf("missing column %q", h)
		}
	}
	cell := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var rows []DailyRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		amt, err := strconv.ParseFloat(strings.TrimSpace(cell(rec, "amount")), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: amount: %w", line, err)
		}
		row := DailyRow{Date: cell(rec, "date"), Amount: amt}
		if row.MovingAvg, err = parseOpt(cell(rec, "moving_avg")); err != nil {
			return nil, fmt.Errorf("line %d: moving_avg: %w", line, err)
		}
		if row.DailyChange, err = parseOpt(cell(rec, "daily_change")); err != nil {
			return nil, fmt.Errorf("line %d: daily_change: %w", line, err)
		}
		if row.WeeklyChange, err = parseOpt(cell(rec, "weekly_change")); err != nil {
			return nil, fmt.Errorf("line %d: weekly_change: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadFile loads a saved report.
func ReadFile(path string) ([]DailyRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(bufio.NewReader(f))
}

// RecentReports lists the newest saved reports in dir.
func RecentReports(dir string, n int) ([]string, error) {
	return files.Recent([]string{dir}, ReportPattern, n)
}
