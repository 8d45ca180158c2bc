package engine

import (
	"github.com/cespare/xxhash/v2"
)

// Bucket returns a deterministic bucket in [0, 100) for the given identity and flag.
// The same key + flagKey + salt always lands in the same bucket, so raising a
// rollout from 10 to 20 only ever adds users. Returns -1 for an empty key.
func Bucket(key, flagKey, salt string) int {
	return bucketN(key, flagKey, salt, 100)
}

func bucketN(key, flagKey, salt string, n int) int {
	if key == "" || n <= 0 {
		return -1
	}
	hash := xxhash.Sum64String(key + ":" + flagKey + ":" + salt)
	return int(hash % uint64(n))
}

// InRollout reports whether key falls inside a percentage rollout.
// 0 excludes everyone and 100 includes everyone, regardless of key.
func InRollout(key, flagKey string, rollout int32, salt string) bool {
	switch {
	case rollout <= 0:
		return false
	case rollout >= 100:
		return true
	}
	b := Bucket(key, flagKey, salt)
	return b >= 0 && b < int(rollout)
}
