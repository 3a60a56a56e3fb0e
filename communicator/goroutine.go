package communicator

import (
	"runtime"
	"strconv"
)

// currentGoroutineID extracts the calling goroutine's runtime id from its
// stack trace header ("goroutine 123 [running]: ..."). It exists only to
// let Communicator approximate Android's Looper.myLooper() ==
// Looper.getMainLooper() thread-affinity check (spec.md §4.10's
// NOT_MAIN_THREAD) with something concrete in a runtime that has no
// supported notion of "the current thread". Used nowhere else in this
// module.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field := buf[len("goroutine "):n]
	for i, b := range field {
		if b == ' ' {
			field = field[:i]
			break
		}
	}
	id, _ := strconv.ParseUint(string(field), 10, 64)
	return id
}
