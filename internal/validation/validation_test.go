package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidResourceID(t *testing.T) {
	assert.True(t, IsValidResourceID("lst_0123456789abcdef01234567"))
	assert.True(t, IsValidResourceID("ord_aaaaaaaaaaaaaaaaaaaaaaaa"))
	assert.False(t, IsValidResourceID("lst_SHORT"))
	assert.False(t, IsValidResourceID("0123456789abcdef01234567"))
	assert.False(t, IsValidResourceID("listing_0123456789abcdef01234567"))
	assert.False(t, IsValidResourceID(""))
}

func TestIsValidStripeID(t *testing.T) {
	assert.True(t, IsValidStripeID("pi_3MtwBwLkdIwHu7ix28a3tqPa"))
	assert.True(t, IsValidStripeID("acct_1032D82eZvKYlo2C"))
	assert.True(t, IsValidStripeID("ch_3MmlLrLkdIwHu7ix0snN0B15"))
	assert.False(t, IsValidStripeID("pending"))
	assert.False(t, IsValidStripeID("pi_"))
	assert.False(t, IsValidStripeID("no spaces_allowed here"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  ", 100))
	assert.Equal(t, "abc", SanitizeString("abcdef", 3))
	assert.Equal(t, "ab", SanitizeString("a\x00b", 100))
}

func TestValidate_CollectsErrors(t *testing.T) {
	errs := Validate(
		Required("listing_id", ""),
		Required("buyer_id", "usr_0123456789abcdef01234567"),
		ValidResourceID("buyer_id", "usr_0123456789abcdef01234567"),
	)
	assert.Len(t, errs, 1)
	assert.Equal(t, "listing_id", errs[0].Field)
	assert.Contains(t, errs.Error(), "listing_id")
}

func TestValidAmountCents(t *testing.T) {
	assert.Nil(t, ValidAmountCents("price", 5000)())
	assert.NotNil(t, ValidAmountCents("price", 0)())
	assert.NotNil(t, ValidAmountCents("price", -100)())
	assert.NotNil(t, ValidAmountCents("price", MaxAmountCents+1)())
}

func TestValidCurrency(t *testing.T) {
	assert.Nil(t, ValidCurrency("currency", "USD", "USD")())
	assert.Nil(t, ValidCurrency("currency", "usd", "USD")())
	assert.Nil(t, ValidCurrency("currency", "", "USD")())
	assert.NotNil(t, ValidCurrency("currency", "EUR", "USD")())
}
