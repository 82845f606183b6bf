package matching

import "sync/atomic"

// Stats counts what the engine did since start. All fields are safe for
// concurrent use.
type Stats struct {
	received     atomic.Int64
	paired       atomic.Int64
	confirmed    atomic.Int64
	requeued     atomic.Int64
	dropped      atomic.Int64
	superseded   atomic.Int64
	duplicates   atomic.Int64
	verifyErrors atomic.Int64
}

type StatsSnapshot struct {
	Received     int64 `json:"received"`
	Paired       int64 `json:"paired"`
	Confirmed    int64 `json:"confirmed"`
	Requeued     int64 `json:"requeued"`
	Dropped      int64 `json:"dropped"`
	Superseded   int64 `json:"superseded"`
	Duplicates   int64 `json:"duplicates"`
	VerifyErrors int64 `json:"verify_errors"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Received:     s.received.Load(),
		Paired:       s.paired.Load(),
		Confirmed:    s.confirmed.Load(),
		Requeued:     s.requeued.Load(),
		Dropped:      s.dropped.Load(),
		Superseded:   s.superseded.Load(),
		Duplicates:   s.duplicates.Load(),
		VerifyErrors: s.verifyErrors.Load(),
	}
}
