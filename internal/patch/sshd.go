package patch

import (
	"fmt"
	"os"
	"strings"
)

// Directives returns the hardening lines appended to the SSH daemon config:
// no root login, no password or challenge-response auth, and access
// restricted to the enumerated accounts.
func Directives(allowedUsers []string) []string {
	return []string{
		"PermitRootLogin no",
		"PasswordAuthentication no",
		"ChallengeResponseAuthentication no",
		"AllowUsers " + strings.Join(allowedUsers, " "),
	}
}

// AppendDirectives appends any hardening directives not already present in
// the config file, returning the lines it added. A fresh config gains
// exactly four lines; a re-run adds nothing.
func AppendDirectives(path string, allowedUsers []string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	existing := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		existing[strings.TrimSpace(line)] = true
	}

	var added []string
	for _, d := range Directives(allowedUsers) {
		if !existing[d] {
			added = append(added, d)
		}
	}
	if len(added) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		sb.WriteByte('\n')
	}
	for _, d := range added {
		sb.WriteString(d)
		sb.WriteByte('\n')
	}

	if err := writeFileDurable(path, []byte(sb.String())); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}
	return added, nil
}
