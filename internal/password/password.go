package password

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

const hashCost = 10

// Generate returns a random password of n characters.
func Generate(n int) (string, error) {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"
	ret := make([]byte, n)
	for i := 0; i < n; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", err
		}
		ret[i] = letters[num.Int64()]
	}
	return string(ret), nil
}

// Hash bcrypt-hashes a plaintext password. The plaintext is never persisted;
// only the salted hash goes into any account record.
func Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("plaintext password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), hashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Prompt reads a password from the terminal, with confirmation.
func Prompt(username string) (string, error) {
	fmt.Printf("Enter a password for %s:\n", username)
	fmt.Print("Password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	if len(first) == 0 {
		return "", errors.New("password cannot be empty")
	}
	return string(first), nil
}

var (
	invalidRe     = regexp.MustCompile(`[^a-z0-9.-]`)
	dashRunRe     = regexp.MustCompile(`-+`)
	dotRunRe      = regexp.MustCompile(`\.+`)
	errEmptyAfter = errors.New("username cannot be sanitized to a non-empty string")
)

// SanitizeUsername lowers a username into a DNS-1123 subdomain usable both
// as a Kubernetes object name and as a secret/config key.
func SanitizeUsername(username string) (string, error) {
	s := strings.ToLower(username)
	s = invalidRe.ReplaceAllString(s, "-")
	s = dashRunRe.ReplaceAllString(s, "-")
	s = dotRunRe.ReplaceAllString(s, ".")
	s = strings.Trim(s, "-.")
	if s == "" {
		return "", errEmptyAfter
	}
	return s, nil
}
