// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode/utf8"
)

const maxNameLength = 64

// IsValidBidAmount проверяет, что сумма ставки — положительное целое число.
func IsValidBidAmount(amount int64) bool {
	return amount > 0
}

// NormalizeName убирает окружающие пробелы из отображаемого имени.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// IsValidName проверяет отображаемое имя участника: непустое после
// нормализации и не длиннее maxNameLength символов.
func IsValidName(name string) bool {
	trimmed := NormalizeName(name)
	if trimmed == "" {
		return false
	}
	return utf8.RuneCountInString(trimmed) <= maxNameLength
}
