// Package artifact resolves the fixed configuration artifacts on the two
// volumes and verifies they exist before anything is touched.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrMissing is returned when a required artifact is absent.
var ErrMissing = errors.New("required artifact missing")

// Kind names one of the five fixed artifacts.
type Kind string

const (
	KindSSHDescriptor           Kind = "ssh-descriptor"
	KindScreenSharingDescriptor Kind = "screensharing-descriptor"
	KindSSHDConfig              Kind = "sshd-config"
	KindRootHome                Kind = "root-home"
	KindUsersContainer          Kind = "users-container"
)

// Locations relative to each volume's mount point.
const (
	sshDescriptorRel           = "System/Library/LaunchDaemons/ssh.plist"
	screenSharingDescriptorRel = "System/Library/LaunchDaemons/com.apple.screensharing.plist"
	sshdConfigRel              = "private/etc/ssh/sshd_config"
	rootHomeRel                = "private/var/root"
)

// Artifact is one resolved config artifact.
type Artifact struct {
	Kind Kind
	Path string
	Dir  bool // true when the artifact must be a directory
}

// Set holds the five artifacts the procedure touches.
type Set struct {
	SSHDescriptor           Artifact
	ScreenSharingDescriptor Artifact
	SSHDConfig              Artifact
	RootHome                Artifact
	UsersContainer          Artifact
}

// Resolve derives the artifact paths from the two mount points. The service
// descriptors live on the system volume; the daemon config, root home, and
// users container live on the data volume.
func Resolve(systemMount, dataMount, usersContainer string) *Set {
	return &Set{
		SSHDescriptor: Artifact{
			Kind: KindSSHDescriptor,
			Path: filepath.Join(systemMount, sshDescriptorRel),
		},
		ScreenSharingDescriptor: Artifact{
			Kind: KindScreenSharingDescriptor,
			Path: filepath.Join(systemMount, screenSharingDescriptorRel),
		},
		SSHDConfig: Artifact{
			Kind: KindSSHDConfig,
			Path: filepath.Join(dataMount, sshdConfigRel),
		},
		RootHome: Artifact{
			Kind: KindRootHome,
			Path: filepath.Join(dataMount, rootHomeRel),
			Dir:  true,
		},
		UsersContainer: Artifact{
			Kind: KindUsersContainer,
			Path: filepath.Join(dataMount, usersContainer),
			Dir:  true,
		},
	}
}

// All returns the artifacts in verification order.
func (s *Set) All() []Artifact {
	return []Artifact{
		s.SSHDescriptor,
		s.ScreenSharingDescriptor,
		s.SSHDConfig,
		s.RootHome,
		s.UsersContainer,
	}
}

// Verify stats every artifact. The first missing or mis-typed artifact is a
// hard error; nothing may proceed past it.
func (s *Set) Verify() error {
	for _, a := range s.All() {
		fi, err := os.Stat(a.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: %s (%s)", ErrMissing, a.Path, a.Kind)
			}
			return fmt.Errorf("checking %s: %w", a.Path, err)
		}
		if a.Dir && !fi.IsDir() {
			return fmt.Errorf("%s exists but is not a directory (%s)", a.Path, a.Kind)
		}
		if !a.Dir && fi.IsDir() {
			return fmt.Errorf("%s exists but is a directory (%s)", a.Path, a.Kind)
		}
	}
	return nil
}

// Mutable returns the three artifacts that get backed up and patched.
func (s *Set) Mutable() []Artifact {
	return []Artifact{s.SSHDescriptor, s.ScreenSharingDescriptor, s.SSHDConfig}
}
