package jobs

import (
	"time"
)

// Kind separates export jobs from yield analysis jobs.
type Kind string

const (
	KindExport Kind = "export"
	KindYield  Kind = "yield"
)

// State is the job lifecycle: idle -> running -> completed | error.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// defaultPages stands in for the unknown page count when estimating progress.
const defaultPages = 10

// Status is the JSON record polled by the status page.
type Status struct {
	JobID              string     `json:"job_id"`
	Kind               Kind       `json:"kind"`
	Status             State      `json:"status"`
	Progress           int        `json:"progress"`
	TotalAddresses     int        `json:"total_addresses"`
	ProcessedAddresses int        `json:"processed_addresses"`
	CurrentAddress     string     `json:"current_address"`
	TotalTransactions  int        `json:"total_transactions"`
	CurrentPage        int        `json:"current_page"`
	MaxPages           int        `json:"max_pages"`
	TotalPages         int        `json:"total_pages"`
	Error              string     `json:"error,omitempty"`
	OutputFile         string     `json:"output_file,omitempty"`
	StartTime          *time.Time `json:"start_time,omitempty"`
	EndTime            *time.Time `json:"end_time,omitempty"`
}

// Terminal reports whether the job has finished.
func (s Status) Terminal() bool {
	return s.Status == StateCompleted || s.Status == StateError
}

// Idle returns the placeholder record shown before any job of kind ran.
func Idle(kind Kind) Status {
	return Status{Kind: kind, Status: StateIdle}
}

// computeProgress estimates completion. Completed jobs are always 100.
func computeProgress(s Status) int {
	if s.Status == StateCompleted {
		return 100
	}
	switch s.Kind {
	case KindYield:
		total := s.TotalPages
		if total <= 0 {
			total = defaultPages
		}
		return min(int(float64(s.CurrentPage)/float64(total)*100), 95)
	default:
		pages := s.MaxPages
		if pages <= 0 {
			pages = defaultPages
		}
		addresses := s.TotalAddresses
		if addresses <= 0 {
			addresses = 1
		}
		work := float64(s.ProcessedAddresses*pages + s.CurrentPage)
		return min(int(work/float64(addresses*pages)*100), 99)
	}
}
