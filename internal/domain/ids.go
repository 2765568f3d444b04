package domain

import (
	"fmt"
	"time"
)

const (
	PrefixOrder  = "EH"
	PrefixUser   = "USR"
	PrefixSeller = "SLR"
)

// DailyID formats identifiers such as EH-20240131-007: the prefix, the
// calendar day and a zero-padded per-day sequence.
func DailyID(prefix string, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%03d", prefix, day.Format("20060102"), seq)
}
