package files

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ModifiedLayout is how modification times are shown.
const ModifiedLayout = "2006-01-02 15:04:05"

// ErrOutsideRoot is returned when a requested path escapes every allowed directory.
var ErrOutsideRoot = errors.New("path outside allowed directories")

// Info describes one CSV file for listings.
type Info struct {
	Path     string
	Name     string
	Size     int64
	SizeKB   string
	Modified time.Time
	Rows     int
}

// ModifiedText formats Modified for display.
func (i Info) ModifiedText() string {
	return i.Modified.Format(ModifiedLayout)
}

// Recent returns up to n files matching pattern in dirs, newest first by mtime.
func Recent(dirs []string, pattern string, n int) ([]string, error) {
	type found struct {
		path  string
		mtime time.Time
	}
	var all []found
	seen := map[string]bool{}
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			st, err := os.Stat(m)
			if err != nil || st.IsDir() {
				continue
			}
			all = append(all, found{path: m, mtime: st.ModTime()})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].mtime.After(all[j].mtime) })
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	out := make([]string, len(all))
	for i, f := range all {
		out[i] = f.path
	}
	return out, nil
}

type rowKey struct {
	path  string
	size  int64
	mtime int64
}

// Describer builds Info records, caching row counts until a file changes.
type Describer struct {
	rows *lru.Cache[rowKey, int]
}

// NewDescriber creates a Describer holding up to size row counts.
func NewDescriber(size int) *Describer {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[rowKey, int](size)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Describer{rows: c}
}

// Describe stats path and counts its data rows.
func (d *Describer) Describe(path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		Path:     filepath.ToSlash(path),
		Name:     filepath.Base(path),
		Size:     st.Size(),
		SizeKB:   fmt.Sprintf("%.1f KB", float64(st.Size())/1024),
		Modified: st.ModTime(),
	}
	key := rowKey{path: path, size: st.Size(), mtime: st.ModTime().UnixNano()}
	if rows, ok := d.rows.Get(key); ok {
		info.Rows = rows
		return info, nil
	}
	rows, err := CountRows(path)
	if err != nil {
		return info, err
	}
	d.rows.Add(key, rows)
	info.Rows = rows
	return info, nil
}

// DescribeAll describes every path, skipping files that vanished in between.
func (d *Describer) DescribeAll(paths []string) []Info {
	out := make([]Info, 0, len(paths))
	for _, p := range paths {
		info, err := d.Describe(p)
		if err != nil && info.Name == "" {
			continue
		}
		out = append(out, info)
	}
	return out
}

// CountRows counts CSV records excluding the header.
func CountRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	n := 0
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("count rows in %s: %w", path, err)
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n - 1, nil
}

// Preview is the head of a CSV file.
type Preview struct {
	Headers   []string
	Rows      [][]string
	TotalRows int
}

// ReadPreview returns the header, the first limit rows and the total row count.
func ReadPreview(path string, limit int) (*Preview, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1

	p := &Preview{}
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	p.Headers = header
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", p.TotalRows+1, err)
		}
		if limit <= 0 || len(p.Rows) < limit {
			p.Rows = append(p.Rows, rec)
		}
		p.TotalRows++
	}
	return p, nil
}

// Resolve maps a request path onto a file inside one of roots.
// rel may be given relative to the working directory ("exports/a.csv") or to a root ("a.csv").
func Resolve(roots []string, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", ErrOutsideRoot
	}
	rel = filepath.FromSlash(rel)
	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		for _, c := range candidates(absRoot, rel) {
			if !within(absRoot, c) {
				continue
			}
			if st, err := os.Stat(c); err == nil && !st.IsDir() {
				return c, nil
			}
		}
	}
	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		for _, c := range candidates(absRoot, rel) {
			if within(absRoot, c) {
				return "", fmt.Errorf("%s: %w", rel, os.ErrNotExist)
			}
		}
	}
	return "", ErrOutsideRoot
}

func candidates(absRoot, rel string) []string {
	if filepath.IsAbs(rel) {
		return []string{filepath.Clean(rel)}
	}
	out := []string{filepath.Join(absRoot, rel)}
	if abs, err := filepath.Abs(rel); err == nil {
		out = append(out, abs)
	}
	return out
}

func within(root, path string) bool {
	r, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return r != "." && r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator))
}
