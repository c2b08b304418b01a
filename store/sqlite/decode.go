package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-credits/generic"
)

// rowDecoder converts text columns back into domain values. It keeps the
// first failure so a scanner can decode every column and check once.
type rowDecoder struct {
	err error
}

func (d *rowDecoder) fail(column string, err error) {
	if d.err == nil {
		d.err = fmt.Errorf("column %s: %w", column, err)
	}
}

func (d *rowDecoder) decimal(column, s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		d.fail(column, err)
	}
	return v
}

func (d *rowDecoder) timestamp(column, s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		d.fail(column, err)
	}
	return t
}

func (d *rowDecoder) optionalTimestamp(column string, ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := d.timestamp(column, ns.String)
	return &t
}

// period accepts an empty string as the zero period.
func (d *rowDecoder) period(column, s string) generic.Period {
	p, err := generic.ParsePeriod(s)
	if err != nil {
		d.fail(column, err)
	}
	return p
}

func (d *rowDecoder) date(column, s string) generic.Date {
	v, err := generic.ParseDate(s)
	if err != nil {
		d.fail(column, err)
	}
	return v
}
