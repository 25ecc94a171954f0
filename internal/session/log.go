package session

import "log"

// debugLog prints [DEBUG] lines only when enabled
type debugLog bool

func (d debugLog) Printf(format string, args ...any) {
	if d {
		log.Printf("[DEBUG] "+format, args...)
	}
}
