// Package patch applies the service-descriptor and daemon-config edits. The
// descriptor edits are deliberately textual: every byte outside the matched
// span must survive unchanged, which a structured re-serializer cannot
// guarantee.
package patch

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
)

// ErrPatternNotFound is returned when a descriptor contains neither the
// original pattern nor its patched form. The edit would otherwise be a
// silent no-op.
var ErrPatternNotFound = errors.New("expected descriptor pattern not found")

// Outcome reports what a file-level patch did.
type Outcome int

const (
	// OutcomeChanged means the pattern was found and rewritten.
	OutcomeChanged Outcome = iota
	// OutcomeAlreadyPatched means the file already carries the patched form.
	OutcomeAlreadyPatched
)

// String renders the outcome for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeChanged:
		return "changed"
	case OutcomeAlreadyPatched:
		return "already patched"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// sshServicePattern matches the SSH service-name declaration followed by its
// Bonjour advertisement of the ssh and sftp-ssh aliases.
var sshServicePattern = regexp.MustCompile(
	`<string>ssh</string>\s*<key>Bonjour</key>\s*<array>\s*<string>ssh</string>\s*<string>sftp-ssh</string>\s*</array>`)

// screenSharingPattern matches the Bonjour/rfb pair and the following
// SockServiceName/vnc-server pair, capturing the whitespace between keys so
// it can be reproduced exactly.
var screenSharingPattern = regexp.MustCompile(
	`<key>Bonjour</key>(\s*)<string>rfb</string>(\s*)<key>SockServiceName</key>(\s*)<string>vnc-server</string>`)

// RewriteSSHDescriptor collapses the SSH service-name declaration and its
// Bonjour advertisement into a single literal port override. Bytes outside
// the matched span are untouched; input already carrying the override is
// returned unchanged.
func RewriteSSHDescriptor(data []byte, port int) ([]byte, bool) {
	replacement := fmt.Sprintf("<string>%d</string>", port)
	out := sshServicePattern.ReplaceAll(data, []byte(replacement))
	return out, !bytes.Equal(out, data)
}

// SSHDescriptorPatched reports whether the descriptor already carries the
// port override.
func SSHDescriptorPatched(data []byte, port int) bool {
	return bytes.Contains(data, []byte(fmt.Sprintf("<string>%d</string>", port)))
}

// RewriteScreenSharingDescriptor replaces the Bonjour advertisement with a
// localhost socket-node binding and rewrites the socket service name to the
// literal port, preserving the captured inter-key whitespace.
func RewriteScreenSharingDescriptor(data []byte, port int) ([]byte, bool) {
	replacement := fmt.Sprintf(
		"<key>SockNodeName</key>${1}<string>localhost</string>${2}<key>SockServiceName</key>${3}<string>%d</string>", port)
	out := screenSharingPattern.ReplaceAll(data, []byte(replacement))
	return out, !bytes.Equal(out, data)
}

// ScreenSharingDescriptorPatched reports whether the descriptor already
// carries the localhost socket-node binding.
func ScreenSharingDescriptorPatched(data []byte, port int) bool {
	return bytes.Contains(data, []byte("<key>SockNodeName</key>"))
}

// PatchSSHDescriptorFile applies the SSH rewrite to the file at path.
func PatchSSHDescriptorFile(path string, port int) (Outcome, error) {
	return patchFile(path,
		func(data []byte) ([]byte, bool) { return RewriteSSHDescriptor(data, port) },
		func(data []byte) bool { return SSHDescriptorPatched(data, port) })
}

// PatchScreenSharingDescriptorFile applies the screen-sharing rewrite to the
// file at path.
func PatchScreenSharingDescriptorFile(path string, port int) (Outcome, error) {
	return patchFile(path,
		func(data []byte) ([]byte, bool) { return RewriteScreenSharingDescriptor(data, port) },
		func(data []byte) bool { return ScreenSharingDescriptorPatched(data, port) })
}

// patchFile reads, rewrites, and durably writes back one descriptor. A file
// matching neither the original nor the patched form fails loudly.
func patchFile(path string, rewrite func([]byte) ([]byte, bool), patched func([]byte) bool) (Outcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	out, changed := rewrite(data)
	if !changed {
		if patched(data) {
			return OutcomeAlreadyPatched, nil
		}
		return 0, fmt.Errorf("%w in %s", ErrPatternNotFound, path)
	}

	if err := writeFileDurable(path, out); err != nil {
		return 0, fmt.Errorf("writing %s: %w", path, err)
	}
	return OutcomeChanged, nil
}
