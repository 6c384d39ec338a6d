package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const accessKeyAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// AccessKeyRandomLength is the number of random base36 characters in a generated key
const AccessKeyRandomLength = 6

// GenerateAccessKey returns a registration key of the form
// KEY-<base36 unix millis>-<6 random base36 chars>, upper case.
func GenerateAccessKey() (string, error) {
	return generateAccessKeyAt(time.Now())
}

func generateAccessKeyAt(now time.Time) (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(accessKeyAlphabet)))
	for i := 0; i < AccessKeyRandomLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random access key: %w", err)
		}
		b.WriteByte(accessKeyAlphabet[n.Int64()])
	}
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return fmt.Sprintf("KEY-%s-%s", ts, b.String()), nil
}

// ExtractBearerToken extracts the token from an Authorization header
// Expected format: "Bearer <token>"
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}
	return token, nil
}
