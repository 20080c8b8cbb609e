package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// GroupTestStateKey returns the key holding the persisted {endTimestamp, answers}
// record of a group test.
func (r *CacheKeyStruct) GroupTestStateKey(sessionID string) string {
	return fmt.Sprintf("group_test:%s:state", sessionID)
}

// GroupTestMonitorChannel returns the Redis PubSub channel name for a group test monitor
func (r *CacheKeyStruct) GroupTestMonitorChannel(sessionID string) string {
	return fmt.Sprintf("group_test:%s:monitor", sessionID)
}

var CacheKey = NewCacheKeyStruct()
