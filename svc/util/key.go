package util

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const (
	keyChars     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	MaxKeyLength = 64
	keyAttempts  = 5
)

// keys double as file names, so nothing but ASCII alphanumerics gets through.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

var ErrKeyCollision = errors.New("key collision after 5 attempts")

// reservedKeys are paths the router serves itself, so content stored
// under them could never be read back.
var reservedKeys = map[string]bool{
	"post":    true,
	"health":  true,
	"ready":   true,
	"metrics": true,
	"debug":   true,
}

var newKey = randomKey

func ReservedKey(key string) bool {
	return reservedKeys[strings.ToLower(key)]
}

func ValidKey(key string) bool {
	return len(key) <= MaxKeyLength && keyPattern.MatchString(key)
}

// GenKey returns a random alphanumeric key of the given length that exists
// reports as unused.
func GenKey(length int, exists func(string) (bool, error)) (string, error) {
	if length <= 0 || length > MaxKeyLength {
		return "", errors.Errorf("key length %d out of range", length)
	}
	for attempt := 0; attempt < keyAttempts; attempt++ {
		key, err := newKey(length)
		if err != nil {
			return "", err
		}
		if ReservedKey(key) {
			continue
		}
		if exists == nil {
			return key, nil
		}
		used, err := exists(key)
		if err != nil {
			return "", err
		}
		if !used {
			return key, nil
		}
	}
	return "", ErrKeyCollision
}

func randomKey(length int) (string, error) {
	max := big.NewInt(int64(len(keyChars)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		buf[i] = keyChars[n.Int64()]
	}
	return string(buf), nil
}
