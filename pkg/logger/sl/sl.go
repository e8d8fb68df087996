// Package sl holds small helpers for building slog attributes.
package sl

import "log/slog"

// Err returns an "err" attribute carrying the error text.
//
//	log.Error("charge failed", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "")
	}
	return slog.String("err", err.Error())
}
