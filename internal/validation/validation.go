// Package validation provides input validation for analysis requests.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

var (
	// evmAddressRegex validates EVM-style contract addresses
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	// txHashRegex validates transaction hashes
	txHashRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
)

// SupportedChains is the closed set of chains analyses can target.
// All current chains use EVM address grammar.
var SupportedChains = map[string]bool{
	"ethereum": true,
	"bsc":      true,
	"polygon":  true,
}

// IsSupportedChain reports whether the chain is in the supported set.
func IsSupportedChain(chain string) bool {
	return SupportedChains[chain]
}

// IsValidContractAddress checks the address against the grammar for the
// declared chain. Unknown chains always fail.
func IsValidContractAddress(addr, chain string) bool {
	if !IsSupportedChain(chain) {
		return false
	}
	return evmAddressRegex.MatchString(addr)
}

// IsValidTxHash checks if a string is a valid 0x-prefixed transaction hash.
func IsValidTxHash(s string) bool {
	return txHashRegex.MatchString(s)
}

// SanitizeAddress normalizes a contract address for downstream use.
func SanitizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.ToLower(addr)
	if !strings.HasPrefix(addr, "0x") && len(addr) == 40 {
		addr = "0x" + addr
	}
	return addr
}

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs the given validators and collects their errors.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty.
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// SupportedChain checks that a chain is in the supported set.
func SupportedChain(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsSupportedChain(value) {
			return &ValidationError{Field: field, Message: "unsupported chain"}
		}
		return nil
	}
}

// ContractAddress checks that an address matches the chain's grammar.
func ContractAddress(field, addr, chain string) func() *ValidationError {
	return func() *ValidationError {
		if addr == "" {
			return nil // use Required for required fields
		}
		if !IsValidContractAddress(addr, chain) {
			return &ValidationError{Field: field, Message: "must be a valid contract address for the declared chain"}
		}
		return nil
	}
}
