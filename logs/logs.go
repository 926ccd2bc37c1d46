package logs

import logging "github.com/ipfs/go-log/v2"

func SetAllLoggers(level logging.LogLevel) {
	logging.SetAllLoggers(level)
	_ = logging.SetLogLevel("fx", "WARN")
	// badger reports every compaction at INFO
	_ = logging.SetLogLevel("store", "WARN")
}
