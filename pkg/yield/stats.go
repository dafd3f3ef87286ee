package yield

// DateRange is the first and last reported day.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Figures summarizes the daily amounts.
type Figures struct {
	MeanDaily   float64  `json:"mean_daily"`
	MaxDaily    float64  `json:"max_daily"`
	MinDaily    float64  `json:"min_daily"`
	TotalAmount float64  `json:"total_amount"`
	LatestDaily float64  `json:"latest_daily"`
	LatestMA    *float64 `json:"latest_ma"`
}

// Stats is the report summary. It is empty when there were no rows.
type Stats struct {
	TotalTransfers int        `json:"total_transfers,omitempty"`
	DateRange      *DateRange `json:"date_range,omitempty"`
	Yield          *Figures   `json:"yield_stats,omitempty"`
}

// Empty reports whether there is anything to show.
func (s Stats) Empty() bool {
	return s.Yield == nil
}

// Summarize computes Stats over rows. transferCount is the number of raw transfers behind them.
func Summarize(rows []DailyRow, transferCount int) Stats {
	if len(rows) == 0 {
		return Stats{}
	}
	f := &Figures{MaxDaily: rows[0].Amount, MinDaily: rows[0].Amount}
	for _, r := range rows {
		f.TotalAmount += r.Amount
		if r.Amount > f.MaxDaily {
			f.MaxDaily = r.Amount
		}
		if r.Amount < f.MinDaily {
			f.MinDaily = r.Amount
		}
	}
	last := rows[len(rows)-1]
	f.MeanDaily = f.TotalAmount / float64(len(rows))
	f.LatestDaily = last.Amount
	f.LatestMA = last.MovingAvg

	return Stats{
		TotalTransfers: transferCount,
		DateRange:      &DateRange{Start: rows[0].Date, End: last.Date},
		Yield:          f,
	}
}
