//go:build !darwin

package config

import (
	"fmt"
	"path/filepath"
)

// secrets maps service -> account -> secret.
type secrets map[string]map[string]string

func secretsFile() jsonFile {
	dir := appDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if dir == "" {
		dir = appName
	}
	return jsonFile(filepath.Join(dir, "secrets.json"))
}

func loadSecrets(f jsonFile) (secrets, error) {
	var s secrets
	if err := f.load(&s); err != nil {
		return nil, err
	}
	if s == nil {
		s = make(secrets)
	}
	return s, nil
}

func keychainGet(service, account string) ([]byte, error) {
	s, err := loadSecrets(secretsFile())
	if err != nil {
		return nil, err
	}
	val, ok := s[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret stored for %s/%s", service, account)
	}
	return []byte(val), nil
}

// keychainSet stores value, keeping every other secret in the file. An
// unreadable file is reported rather than replaced.
func keychainSet(service, account, value string) error {
	f := secretsFile()
	s, err := loadSecrets(f)
	if err != nil {
		return err
	}
	if s[service] == nil {
		s[service] = make(map[string]string)
	}
	s[service][account] = value
	return f.store(s)
}
