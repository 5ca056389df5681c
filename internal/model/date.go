package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Date is a timestamp that decodes from either the date-only form the
// create endpoints accept ("2006-01-02") or full RFC 3339, so the same
// client payload works for create and patch alike.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			d.Time = ts
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", s)
}
