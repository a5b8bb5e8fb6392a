package keys

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/xhad/danfe/internal/models"
)

// Length is the number of digits in an access key.
const Length = 44

// Valid reports whether s is exactly 44 ASCII decimal digits.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Filter keeps the well-formed candidates in their original order.
// Surrounding whitespace is ignored; duplicates are kept.
func Filter(raw []string) []models.DocumentKey {
	var out []models.DocumentKey
	for _, candidate := range raw {
		candidate = strings.TrimSpace(candidate)
		if Valid(candidate) {
			out = append(out, models.DocumentKey(candidate))
		}
	}
	return out
}

// Parse takes pasted text with one key per line.
func Parse(text string) []models.DocumentKey {
	return Filter(strings.Split(text, "\n"))
}

// ReadFrom reads one candidate per line from r.
func ReadFrom(r io.Reader) ([]models.DocumentKey, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read keys: %w", err)
	}
	return Filter(lines), nil
}
