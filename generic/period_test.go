package generic_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-credits/generic"
)

func TestParsePeriod(t *testing.T) {
	p, err := generic.ParsePeriod("2025-06")
	require.NoError(t, err)
	assert.Equal(t, generic.NewPeriod(2025, time.June), p)
	assert.Equal(t, "2025-06", p.String())

	zero, err := generic.ParsePeriod("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = generic.ParsePeriod("June 2025")
	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "invalid_period", ve.Code)
}

func TestPeriod_Ordering(t *testing.T) {
	dec := generic.NewPeriod(2024, time.December)
	jan := generic.NewPeriod(2025, time.January)

	assert.True(t, dec.Before(jan))
	assert.True(t, jan.After(dec))
	assert.Equal(t, jan, dec.Next())
	assert.Equal(t, dec, jan.Prev())
	assert.Equal(t, "2024-12-31", dec.End().String())
	assert.Equal(t, "2025-01-01", jan.Start().String())
}

func TestPeriod_JSON(t *testing.T) {
	type wrapper struct {
		P generic.Period `json:"p"`
	}

	data, err := json.Marshal(wrapper{P: generic.NewPeriod(2025, time.March)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"p":"2025-03"}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"p":null}`), &w))
	assert.True(t, w.P.IsZero())
}

func TestAccount_CreditedFor(t *testing.T) {
	june := generic.NewPeriod(2025, time.June)

	assert.False(t, generic.Account{}.CreditedFor(june), "never accrued")
	assert.True(t, generic.Account{LastAccrualPeriod: june}.CreditedFor(june))
	assert.True(t, generic.Account{LastAccrualPeriod: june.Next()}.CreditedFor(june))
	assert.False(t, generic.Account{LastAccrualPeriod: june.Prev()}.CreditedFor(june))
}

func TestDate_JSONAndArithmetic(t *testing.T) {
	d, err := generic.ParseDate("2025-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", d.AddDays(1).String())

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2025-02-28"`, string(data))

	var back generic.Date
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Equal(d))
}
