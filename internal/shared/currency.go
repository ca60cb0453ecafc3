package shared

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
)

// NormalizeCurrency validates an ISO 4217 code and returns its canonical form.
func NormalizeCurrency(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("%w: currency required", ErrValidation)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: currency %q: %v", ErrValidation, code, err)
	}
	return unit.String(), nil
}
