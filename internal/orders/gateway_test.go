package orders

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"optguard/internal/model"
)

func intent() Intent {
	return Intent{
		Symbol:   "nifty28oct2525000ce",
		Token:    "43210",
		Exchange: "nfo",
		Side:     model.Sell,
		Qty:      75,
	}
}

func TestMarketExitParams(t *testing.T) {
	o, err := MarketExit(intent())
	require.NoError(t, err)

	p := o.Params()
	require.Equal(t, "NORMAL", p["variety"])
	require.Equal(t, "MARKET", p["ordertype"])
	require.Equal(t, "NIFTY28OCT2525000CE", p["tradingsymbol"])
	require.Equal(t, "NFO", p["exchange"])
	require.Equal(t, "SELL", p["transactiontype"])
	require.Equal(t, "INTRADAY", p["producttype"])
	require.Equal(t, "DAY", p["duration"])
	require.Equal(t, "75", p["quantity"])
	require.Equal(t, "0", p["price"])
	require.NotContains(t, p, "triggerprice")
	require.NotContains(t, p, "orderid")
}

func TestQuantityMustBePositive(t *testing.T) {
	for _, qty := range []int64{0, -75} {
		in := intent()
		in.Qty = qty
		_, err := MarketEntry(in)
		var ve *ValidationError
		require.True(t, errors.As(err, &ve), "qty=%d", qty)
		require.Equal(t, "quantity", ve.Field)
	}
}

func TestStopLimitTriggerAboveLimit(t *testing.T) {
	in := intent()
	in.Price = model.FromRupees(109.95)
	in.Trigger = model.FromRupees(110)

	o, err := StopLimit(in)
	require.NoError(t, err)
	p := o.Params()
	require.Equal(t, "STOPLOSS", p["variety"])
	require.Equal(t, "STOPLOSS_LIMIT", p["ordertype"])
	require.Equal(t, "109.95", p["price"])
	require.Equal(t, "110.00", p["triggerprice"])

	in.Trigger = in.Price
	_, err = StopLimit(in)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestModifyStopNeedsOrderID(t *testing.T) {
	in := intent()
	in.Price, in.Trigger = 9990, 9995

	_, err := ModifyStop("", in)
	require.Error(t, err)

	o, err := ModifyStop("250101000001", in)
	require.NoError(t, err)
	require.Equal(t, "250101000001", o.Params()["orderid"])
}

func TestStopPair(t *testing.T) {
	limit, trig := StopPair(model.FromRupees(99.95), 5, 5)
	require.Equal(t, model.Paise(9990), limit)
	require.Equal(t, model.Paise(9995), trig)

	// off-tick trigger is rounded before the limit is derived
	limit, trig = StopPair(11002, 5, 5)
	require.Equal(t, model.Paise(11000), trig)
	require.Equal(t, model.Paise(10995), limit)

	// never below one tick
	limit, trig = StopPair(0, 5, 5)
	require.Equal(t, model.Paise(5), limit)
	require.Equal(t, model.Paise(10), trig)
}
