package app

import "log"

// bestEffort runs a cleanup-style operation whose failure must never
// block the primary flow. The error is logged and swallowed.
func bestEffort(op string, fn func() error) {
	if err := fn(); err != nil {
		log.Printf("⚠️  Best-effort %s failed: %v", op, err)
	}
}
