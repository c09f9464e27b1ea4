package misc

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
	"unsafe"
)

// 9 bytes of unixnano and 7 random bytes
func PseudoUUID() string {
	now := time.Now().UnixNano()
	randPart := make([]byte, 7)
	if _, err := rand.Read(randPart); err != nil {
		copy(randPart, (*(*[8]byte)(unsafe.Pointer(&now)))[:7])
	}
	return strconv.FormatInt(now, 10)[1:] + hex.EncodeToString(randPart)
}

func Contains(list []int64, v int64) bool {
	for _, l := range list {
		if l == v {
			return true
		}
	}
	return false
}

func Remove(list []int64, v int64) []int64 {
	out := make([]int64, 0, len(list))
	for _, l := range list {
		if l != v {
			out = append(out, l)
		}
	}
	return out
}
