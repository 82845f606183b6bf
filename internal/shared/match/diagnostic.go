package match

import "time"

type DiagnosticType string

const (
	VerificationFailed DiagnosticType = "verification_failed"
	RequestSuperseded  DiagnosticType = "request_superseded"
	RequestDropped     DiagnosticType = "request_dropped"
)

// Diagnostic reports a pairing path that ended without a confirmed match but
// that someone outside the engine may want to act on.
type Diagnostic struct {
	Type     DiagnosticType   `json:"type"`
	Key      string           `json:"key"`
	Requests []PendingRequest `json:"requests"`
	Reason   string           `json:"reason,omitempty"`
	At       int64            `json:"at"`
}

func NewDiagnostic(t DiagnosticType, k MatchKey, reason string, reqs ...PendingRequest) Diagnostic {
	return Diagnostic{
		Type:     t,
		Key:      k.String(),
		Requests: reqs,
		Reason:   reason,
		At:       time.Now().Unix(),
	}
}
