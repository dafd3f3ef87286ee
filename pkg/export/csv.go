package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zero-network/txexporter/pkg/explorer"
	"github.com/zero-network/txexporter/pkg/utils"
)

// TimestampLayout is how timestamps are rendered in the CSV.
const TimestampLayout = "2006-01-02 15:04:05"

// DefaultFields are always exported, in this order.
var DefaultFields = []string{
	"timeStamp", "hash", "from", "to", "value", "tokenName",
	"tokenSymbol", "tokenDecimal", "contractAddress", "tokenID",
}

var displayNames = map[string]string{
	"timeStamp":         "Timestamp",
	"hash":              "Transaction Hash",
	"from":              "From Address",
	"to":                "To Address",
	"value":             "Value",
	"tokenName":         "Token Name",
	"tokenSymbol":       "Token Symbol",
	"tokenDecimal":      "Token Decimal",
	"contractAddress":   "Contract Address",
	"tokenID":           "Token ID",
	"gasUsed":           "Gas Used",
	"gasPrice":          "Gas Price",
	"cumulativeGasUsed": "Cumulative Gas Used",
	"confirmations":     "Confirmations",
	"blockNumber":       "Block Number",
	"blockHash":         "Block Hash",
	"transactionIndex":  "Transaction Index",
	"nonce":             "Nonce",
}

// ExtraFields lists the optional fields that have a display name.
var ExtraFields = []string{
	"gasUsed", "gasPrice", "cumulativeGasUsed", "confirmations",
	"blockNumber", "blockHash", "transactionIndex", "nonce",
}

// Columns returns the default fields followed by the extra ones not already present.
func Columns(extra []string) []string {
	cols := append([]string(nil), DefaultFields...)
	seen := make(map[string]bool, len(cols)+len(extra))
	for _, c := range cols {
		seen[c] = true
	}
	for _, f := range extra {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		cols = append(cols, f)
	}
	return cols
}

// DisplayName maps a field to its CSV header. Unknown fields keep their raw name.
func DisplayName(field string) string {
	if n, ok := displayNames[field]; ok {
		return n
	}
	return field
}

// FormatTimestamp renders a unix timestamp as UTC; anything unparsable is returned verbatim.
func FormatTimestamp(raw string) string {
	sec, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return raw
	}
	return time.Unix(sec, 0).UTC().Format(TimestampLayout)
}

// ScaleValue divides an integer token amount by 10^decimals exactly.
// The raw value is returned when either input does not parse.
func ScaleValue(value, decimals string) string {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return value
	}
	n, err := strconv.Atoi(strings.TrimSpace(decimals))
	if err != nil || n < 0 {
		return value
	}
	return d.Shift(-int32(n)).String()
}

func row(tx explorer.Transfer, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		switch c {
		case "timeStamp":
			out[i] = FormatTimestamp(tx.TimeStamp)
		case "value":
			out[i] = ScaleValue(tx.Value, tx.TokenDecimal)
		default:
			out[i] = tx.Field(c)
		}
	}
	return out
}

// WriteCSV writes a header and one row per transfer. It returns the number of rows written.
func WriteCSV(w io.Writer, transfers []explorer.Transfer, extra []string) (int, error) {
	cols := Columns(extra)
	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = DisplayName(c)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	n := 0
	for _, tx := range transfers {
		if err := cw.Write(row(tx, cols)); err != nil {
			return n, fmt.Errorf("write row %d: %w", n+1, err)
		}
		n++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flush csv: %w", err)
	}
	return n, nil
}

// WriteFile writes the CSV to path, creating parent directories.
func WriteFile(path string, transfers []explorer.Transfer, extra []string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	n, err := WriteCSV(bw, transfers, extra)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// OutputFilename builds dir/tx_{token|internal}_{label[:8]}_{YYYYmmdd_HHMMSS}.csv.
func OutputFilename(dir, label string, internal bool, now time.Time) string {
	kind := "token"
	if internal {
		kind = "internal"
	}
	name := fmt.Sprintf("tx_%s_%s_%s.csv", kind, utils.ShortLabel(label, 8), now.Format("20060102_150405"))
	return filepath.Join(dir, name)
}
