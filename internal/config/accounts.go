package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"sdabot/internal/domain"
)

// FileAccountSource reads the accounts file on every call, so edits to the
// file are picked up on the next scheduler tick without a restart.
type FileAccountSource struct {
	Path string
}

func (f *FileAccountSource) Accounts(context.Context) ([]domain.AccountProfile, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading accounts file: %w", err)
	}
	var profiles []domain.AccountProfile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, fmt.Errorf("parsing accounts file %s: %w", f.Path, err)
	}
	for i, p := range profiles {
		if err := validateAccount(p); err != nil {
			return nil, fmt.Errorf("accounts file %s entry %d: %w", f.Path, i, err)
		}
	}
	return profiles, nil
}

func validateAccount(p domain.AccountProfile) error {
	a := p.Account
	switch {
	case a.Name == "":
		return fmt.Errorf("missing username")
	case a.Password == "":
		return fmt.Errorf("account %s: missing password", a.Name)
	case a.SharedSecret == "":
		return fmt.Errorf("account %s: missing shared_secret", a.Name)
	case a.IdentitySecret == "":
		return fmt.Errorf("account %s: missing identity_secret", a.Name)
	case a.SteamID == "":
		return fmt.Errorf("account %s: missing steam_id", a.Name)
	}
	return nil
}

// LoadProxyLines reads one proxy per line, ignoring blanks and comments.
// An empty path yields no proxies.
func LoadProxyLines(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading proxies file: %w", err)
	}
	var lines []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}
