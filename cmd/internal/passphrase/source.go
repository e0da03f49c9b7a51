package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const prompt = "Keystore passphrase: "

// Source resolves the passphrase that unlocks a party's signing keystore.
// The environment variable wins over the terminal prompt and the first
// result, success or failure, is reused.
type Source struct {
	envVar string

	once  sync.Once
	value string
	err   error
}

func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar)}
}

func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if value, ok, err := s.fromEnv(); ok || err != nil {
			s.value, s.err = value, err
			return
		}
		s.value, s.err = s.fromTerminal()
	})
	return s.value, s.err
}

func (s *Source) fromEnv() (string, bool, error) {
	if s.envVar == "" {
		return "", false, nil
	}
	value, ok := os.LookupEnv(s.envVar)
	if !ok {
		return "", false, nil
	}
	if strings.TrimSpace(value) == "" {
		return "", true, fmt.Errorf("%s is set but empty", s.envVar)
	}
	return value, true, nil
}

func (s *Source) fromTerminal() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if s.envVar == "" {
			return "", errors.New("keystore passphrase required and no terminal available")
		}
		return "", fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", errors.New("keystore passphrase cannot be empty")
	}
	return string(raw), nil
}
