package rediskeys

import "fmt"

func WaitingRequest(matchKey string) string {
	return fmt.Sprintf("%s:waiting:%s", matchingStream, matchKey)
}

func SeenRequest(requestID string) string {
	return fmt.Sprintf("%s:seen:%s", matchingStream, requestID)
}
