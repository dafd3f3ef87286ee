package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseAddresses splits user input on commas, semicolons and newlines, keeping order and dropping duplicates.
func ParseAddresses(input string) []string {
	return dedupAddresses(strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r' || r == ';'
	}))
}

// ReadAddresses reads an uploaded address list. CSV input uses the first column, anything else one address per line.
func ReadAddresses(r io.Reader, csvFormat bool) ([]string, error) {
	var raw []string
	if csvFormat {
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		for {
			rec, err := cr.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("read address csv: %w", err)
			}
			if len(rec) > 0 {
				raw = append(raw, rec[0])
			}
		}
	} else {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			raw = append(raw, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read address file: %w", err)
		}
	}
	return dedupAddresses(raw), nil
}

// HexOnly keeps the entries that look like 0x addresses.
func HexOnly(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if strings.HasPrefix(strings.ToLower(a), "0x") {
			out = append(out, a)
		}
	}
	return out
}

func dedupAddresses(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, f := range in {
		f = strings.TrimSpace(f)
		key := strings.ToLower(f)
		if f == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}
