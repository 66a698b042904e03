// Package logging hands out named loggers the way crdtserver/main.go does:
// each subsystem package declares its own logger at init time.
package logging

import logging "github.com/ipfs/go-log/v2"

// Named returns a structured, leveled logger for the given subsystem name.
func Named(subsystem string) *logging.ZapEventLogger {
	return logging.Logger(subsystem)
}
