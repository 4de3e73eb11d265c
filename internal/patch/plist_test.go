package patch

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sshPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>com.openssh.sshd</string>
	<key>Sockets</key>
	<dict>
		<key>Listeners</key>
		<dict>
			<key>SockServiceName</key>
			<string>ssh</string>
			<key>Bonjour</key>
			<array>
				<string>ssh</string>
				<string>sftp-ssh</string>
			</array>
		</dict>
	</dict>
</dict>
</plist>
`

const screenSharingPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>com.apple.screensharing</string>
	<key>Sockets</key>
	<dict>
		<key>Listener</key>
		<dict>
			<key>Bonjour</key>
			<string>rfb</string>
			<key>SockServiceName</key>
			<string>vnc-server</string>
		</dict>
	</dict>
</dict>
</plist>
`

// TestRewriteSSHDescriptor collapses the advertisement into a port override
func TestRewriteSSHDescriptor(t *testing.T) {
	out, changed := RewriteSSHDescriptor([]byte(sshPlist), 22022)
	if !changed {
		t.Fatalf("RewriteSSHDescriptor() reported no change")
	}

	got := string(out)
	if !strings.Contains(got, "<string>22022</string>") {
		t.Errorf("output missing port override:\n%s", got)
	}
	if strings.Contains(got, "sftp-ssh") || strings.Contains(got, "<key>Bonjour</key>") {
		t.Errorf("Bonjour advertisement survived the rewrite:\n%s", got)
	}

	// Everything outside the matched span is byte-identical.
	wantPrefix := sshPlist[:strings.Index(sshPlist, "<string>ssh</string>")]
	if !strings.HasPrefix(got, wantPrefix) {
		t.Errorf("bytes before the matched span changed")
	}
	wantSuffix := sshPlist[strings.Index(sshPlist, "</array>")+len("</array>"):]
	if !strings.HasSuffix(got, wantSuffix) {
		t.Errorf("bytes after the matched span changed")
	}

	// The service-name key that preceded the literal is preserved.
	if !strings.Contains(got, "<key>SockServiceName</key>\n\t\t\t<string>22022</string>") {
		t.Errorf("port override not in the service-name position:\n%s", got)
	}
}

// TestRewriteSSHDescriptorIdempotent is a no-op on already-patched input
func TestRewriteSSHDescriptorIdempotent(t *testing.T) {
	once, changed := RewriteSSHDescriptor([]byte(sshPlist), 22022)
	if !changed {
		t.Fatalf("first rewrite reported no change")
	}

	twice, changed := RewriteSSHDescriptor(once, 22022)
	if changed {
		t.Errorf("second rewrite reported a change")
	}
	if !bytes.Equal(once, twice) {
		t.Errorf("second rewrite altered bytes")
	}
	if !SSHDescriptorPatched(once, 22022) {
		t.Errorf("SSHDescriptorPatched() = false on patched input")
	}
	if SSHDescriptorPatched([]byte(sshPlist), 22022) {
		t.Errorf("SSHDescriptorPatched() = true on original input")
	}
}

// TestRewriteScreenSharingDescriptor swaps the advertisement for a
// localhost socket binding, preserving whitespace
func TestRewriteScreenSharingDescriptor(t *testing.T) {
	out, changed := RewriteScreenSharingDescriptor([]byte(screenSharingPlist), 59059)
	if !changed {
		t.Fatalf("RewriteScreenSharingDescriptor() reported no change")
	}

	got := string(out)
	want := "<key>SockNodeName</key>\n\t\t\t<string>localhost</string>\n\t\t\t<key>SockServiceName</key>\n\t\t\t<string>59059</string>"
	if !strings.Contains(got, want) {
		t.Errorf("output missing rewritten block with original whitespace:\n%s", got)
	}
	if strings.Contains(got, "rfb") || strings.Contains(got, "vnc-server") {
		t.Errorf("original advertisement survived:\n%s", got)
	}

	wantPrefix := screenSharingPlist[:strings.Index(screenSharingPlist, "<key>Bonjour</key>")]
	if !strings.HasPrefix(got, wantPrefix) {
		t.Errorf("bytes before the matched span changed")
	}
	wantSuffix := screenSharingPlist[strings.Index(screenSharingPlist, "<string>vnc-server</string>")+len("<string>vnc-server</string>"):]
	if !strings.HasSuffix(got, wantSuffix) {
		t.Errorf("bytes after the matched span changed")
	}
}

// TestRewriteScreenSharingIdempotent is a no-op on already-patched input
func TestRewriteScreenSharingIdempotent(t *testing.T) {
	once, _ := RewriteScreenSharingDescriptor([]byte(screenSharingPlist), 59059)
	twice, changed := RewriteScreenSharingDescriptor(once, 59059)
	if changed {
		t.Errorf("second rewrite reported a change")
	}
	if !bytes.Equal(once, twice) {
		t.Errorf("second rewrite altered bytes")
	}
	if !ScreenSharingDescriptorPatched(once, 59059) {
		t.Errorf("ScreenSharingDescriptorPatched() = false on patched input")
	}
}

// TestPatchFileOutcomes covers changed, already-patched, and no-match
func TestPatchFileOutcomes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ssh.plist")
	if err := os.WriteFile(path, []byte(sshPlist), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	outcome, err := PatchSSHDescriptorFile(path, 22022)
	if err != nil {
		t.Fatalf("PatchSSHDescriptorFile() failed: %v", err)
	}
	if outcome != OutcomeChanged {
		t.Errorf("first patch outcome = %v, want changed", outcome)
	}

	outcome, err = PatchSSHDescriptorFile(path, 22022)
	if err != nil {
		t.Fatalf("re-patch failed: %v", err)
	}
	if outcome != OutcomeAlreadyPatched {
		t.Errorf("re-patch outcome = %v, want already patched", outcome)
	}

	// A descriptor with neither form is a hard error, not a silent no-op.
	other := filepath.Join(dir, "other.plist")
	if err := os.WriteFile(other, []byte("<plist><dict/></plist>\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := PatchSSHDescriptorFile(other, 22022); !errors.Is(err, ErrPatternNotFound) {
		t.Errorf("patch of unrelated file: error = %v, want ErrPatternNotFound", err)
	}
}

// TestPatchFilePreservesMode keeps the original permissions
func TestPatchFilePreservesMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screensharing.plist")
	if err := os.WriteFile(path, []byte(screenSharingPlist), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := PatchScreenSharingDescriptorFile(path, 59059); err != nil {
		t.Fatalf("PatchScreenSharingDescriptorFile() failed: %v", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", fi.Mode().Perm())
	}
}
