// Package validation provides input validation middleware for the marketplace API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// MaxAmountCents caps a single listing price at $100,000.
const MaxAmountCents = 10_000_000

var (
	// resourceIDRegex validates prefixed resource IDs (lst_, ord_, pay_, usr_)
	resourceIDRegex = regexp.MustCompile(`^[a-z]{3}_[a-f0-9]{24}$`)
	// stripeIDRegex validates Stripe object IDs (pi_..., ch_..., acct_..., re_...)
	stripeIDRegex = regexp.MustCompile(`^[a-zA-Z]{1,8}_[a-zA-Z0-9]{8,64}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidResourceID checks if a string is a well-formed prefixed resource ID.
func IsValidResourceID(id string) bool {
	return resourceIDRegex.MatchString(id)
}

// IsValidStripeID checks if a string looks like a Stripe object ID.
func IsValidStripeID(id string) bool {
	return stripeIDRegex.MatchString(id)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidResourceID checks if a field is a well-formed prefixed resource ID
func ValidResourceID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidResourceID(value) {
			return &ValidationError{Field: field, Message: "must be a valid resource ID (prefix_hex)"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// ValidAmountCents checks that an integer money amount is positive and
// within the per-listing cap. Amounts are integer cents throughout; no
// floats touch money.
func ValidAmountCents(field string, cents int64) func() *ValidationError {
	return func() *ValidationError {
		if cents <= 0 {
			return &ValidationError{Field: field, Message: "amount must be greater than zero"}
		}
		if cents > MaxAmountCents {
			return &ValidationError{Field: field, Message: "amount exceeds maximum"}
		}
		return nil
	}
}

// ValidCurrency checks a currency code against the single supported
// settlement currency.
func ValidCurrency(field, value, supported string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !strings.EqualFold(value, supported) {
			return &ValidationError{Field: field, Message: "unsupported currency"}
		}
		return nil
	}
}

// IDParamMiddleware validates the named URL parameter as a resource ID on
// routes that use it. Apply to route groups to reject malformed IDs early.
func IDParamMiddleware(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param(param)
		if id != "" && !IsValidResourceID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": param + " must be a valid resource ID",
			})
			return
		}
		c.Next()
	}
}
