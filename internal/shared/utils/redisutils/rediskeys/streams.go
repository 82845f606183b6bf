package rediskeys

import "fmt"

const (
	matchingStream = "matching"
)

var (
	MatchRequestStream   = fmt.Sprintf("%s:requests", matchingStream)
	MatchRequestCGroup   = fmt.Sprintf("%s:requests:cgroup", matchingStream)
	ConfirmedMatchStream = fmt.Sprintf("%s:confirmed", matchingStream)
	DiagnosticStream     = fmt.Sprintf("%s:diagnostics", matchingStream)
)

// ConfirmedMatchGatewayCGroup is one gateway instance's own group, every
// instance sees every confirmed match.
func ConfirmedMatchGatewayCGroup(instance string) string {
	return fmt.Sprintf("%s:confirmed:gateway:%s:cgroup", matchingStream, instance)
}
