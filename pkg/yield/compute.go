package yield

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/zero-network/txexporter/pkg/explorer"
)

// DefaultDecimals applies when a transfer carries no tokenDecimal.
const DefaultDecimals = 18

// DailyRow is the aggregated yield for one UTC day.
type DailyRow struct {
	Date         string
	Amount       float64
	MovingAvg    *float64
	DailyChange  *float64
	WeeklyChange *float64
}

// Amount scales a transfer's raw value by its token decimals. ok is false when value does not parse.
func Amount(tx explorer.Transfer) (decimal.Decimal, bool) {
	v, err := decimal.NewFromString(strings.TrimSpace(tx.Value))
	if err != nil {
		return decimal.Zero, false
	}
	dec := DefaultDecimals
	if n, err := strconv.Atoi(strings.TrimSpace(tx.TokenDecimal)); err == nil && n >= 0 {
		dec = n
	}
	return v.Shift(-int32(dec)), true
}

// Compute buckets transfers by UTC date and derives the moving average and % changes.
// Transfers with an unparsable timestamp or value are skipped.
func Compute(transfers []explorer.Transfer, window int) []DailyRow {
	if window <= 0 {
		window = DefaultWindowDays
	}
	sums := map[string]decimal.Decimal{}
	for _, tx := range transfers {
		ts, err := tx.Time()
		if err != nil {
			continue
		}
		amt, ok := Amount(tx)
		if !ok {
			continue
		}
		day := ts.Format("2006-01-02")
		sums[day] = sums[day].Add(amt)
	}
	if len(sums) == 0 {
		return nil
	}

	days := make([]string, 0, len(sums))
	for d := range sums {
		days = append(days, d)
	}
	sort.Strings(days)

	rows := make([]DailyRow, len(days))
	for i, d := range days {
		rows[i] = DailyRow{Date: d, Amount: sums[d].InexactFloat64()}
	}

	for i := range rows {
		if i >= window-1 {
			rows[i].MovingAvg = ptr(movingAvg(rows[i-window+1 : i+1]))
		}
		if i == 0 {
			rows[i].DailyChange = ptr(0)
		} else {
			rows[i].DailyChange = pctChange(rows[i-1].Amount, rows[i].Amount)
		}
		if i >= 7 {
			rows[i].WeeklyChange = pctChange(rows[i-7].Amount, rows[i].Amount)
		}
	}
	return rows
}

// movingAvg sums with decimal so a constant series averages to exactly that constant.
func movingAvg(rows []DailyRow) float64 {
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(decimal.NewFromFloat(r.Amount))
	}
	return sum.Div(decimal.NewFromInt(int64(len(rows)))).InexactFloat64()
}

func pctChange(prev, cur float64) *float64 {
	if prev == 0 {
		return nil
	}
	return ptr((cur - prev) / prev * 100)
}

func ptr(v float64) *float64 { return &v }
