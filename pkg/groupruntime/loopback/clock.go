package loopback

import "time"

func wallClockMicros() int64 {
	return time.Now().UnixMicro()
}
