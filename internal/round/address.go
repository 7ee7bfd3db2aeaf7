package round

import (
	"strings"
	"unicode"

	"github.com/gagliardetto/solana-go"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ExtractAddress returns the first word of text that is a Solana public key:
// 32 to 44 base58 characters decoding to 32 bytes. It does not check that the
// account exists.
func ExtractAddress(text string) string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len(w) < 32 || len(w) > 44 {
			continue
		}
		if strings.IndexFunc(w, func(r rune) bool { return !strings.ContainsRune(base58Alphabet, r) }) >= 0 {
			continue
		}
		if _, err := solana.PublicKeyFromBase58(w); err != nil {
			continue
		}
		return w
	}
	return ""
}
