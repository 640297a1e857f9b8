package models

import (
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	pubkeyLen    = 32
	signatureLen = 64
)

func ValidateMint(mint string) error {
	return validateBase58(mint, pubkeyLen, "mint")
}

func ValidateSignature(sig string) error {
	return validateBase58(sig, signatureLen, "signature")
}

func validateBase58(value string, size int, what string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("Пустой %s.", what)
	}
	raw, err := base58.Decode(value)
	if err != nil {
		return fmt.Errorf("Некорректный %s %q: %w", what, value, err)
	}
	if len(raw) != size {
		return fmt.Errorf("Некорректная длина %s %q: %d байт, ожидалось %d", what, value, len(raw), size)
	}
	return nil
}
