// Package validation provides input validation helpers and middleware for
// the payments API.
package validation

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/kindkart/kindkart/internal/money"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxReasonLength bounds free-text fields such as dispute reasons.
const MaxReasonLength = 2000

var (
	// idRegex matches the opaque ids used for users, requests and transactions.
	idRegex  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	hexRegex = regexp.MustCompile(`^[a-fA-F0-9]+$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID reports whether s looks like an entity id.
func IsValidID(s string) bool {
	return idRegex.MatchString(s)
}

// IsValidHex checks if a string is valid hex
func IsValidHex(s string) bool {
	return hexRegex.MatchString(s)
}

// SanitizeString trims whitespace, drops null bytes and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
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
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
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

// ValidID checks that a non-empty field is a well-formed id.
func ValidID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidID(value) {
			return &ValidationError{Field: field, Message: "must be a valid id"}
		}
		return nil
	}
}

// ValidHex checks that a non-empty field is hex encoded.
func ValidHex(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidHex(value) {
			return &ValidationError{Field: field, Message: "must be hex encoded"}
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

// ValidAmount checks that amount is positive and exactly representable in
// currency's minor unit.
func ValidAmount(field string, amount decimal.Decimal, currency string) func() *ValidationError {
	return func() *ValidationError {
		err := money.Validate(amount, currency)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, money.ErrUnsupportedCurrency):
			return &ValidationError{Field: "currency", Message: "unsupported currency"}
		case errors.Is(err, money.ErrSubMinorPrecision):
			return &ValidationError{Field: field, Message: "has more decimal places than the currency allows"}
		case errors.Is(err, money.ErrAmountTooLarge):
			return &ValidationError{Field: field, Message: "exceeds the maximum supported amount"}
		default:
			return &ValidationError{Field: field, Message: "must be greater than zero"}
		}
	}
}

// IDParamMiddleware rejects requests whose named URL parameters are not
// well-formed ids.
func IDParamMiddleware(params ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range params {
			if v := c.Param(p); v != "" && !IsValidID(v) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "validation_error",
					"message": p + " must be a valid id",
				})
				return
			}
		}
		c.Next()
	}
}
