package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	gossh "golang.org/x/crypto/ssh"
)

// keyring maps SHA256 fingerprints to the comment of the authorized key.
type keyring map[string]string

func loadAuthorizedKeys(path string) (keyring, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return keyring{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read authorized keys: %w", err)
	}
	return parseAuthorizedKeys(data)
}

func parseAuthorizedKeys(data []byte) (keyring, error) {
	keys := keyring{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, comment, _, _, err := gossh.ParseAuthorizedKey([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("authorized keys line %d: %w", line, err)
		}
		if comment == "" {
			comment = "unknown"
		}
		keys[gossh.FingerprintSHA256(key)] = comment
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan authorized keys: %w", err)
	}
	return keys, nil
}

// lookup returns the key comment used as the console username.
func (k keyring) lookup(key gossh.PublicKey) (string, bool) {
	name, ok := k[gossh.FingerprintSHA256(key)]
	return name, ok
}
