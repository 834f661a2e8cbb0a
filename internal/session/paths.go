package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns the roam home directory: $ROAM_HOME, or ~/.roam.
func BaseDir() string {
	if dir := os.Getenv("ROAM_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".roam")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Paths locates the files of one session.
type Paths struct {
	Name string
	Dir  string
}

// For returns the paths of the named session under BaseDir.
func For(name string) Paths {
	return Paths{Name: name, Dir: filepath.Join(BaseDir(), "sessions", name)}
}

// Socket is the daemon's Unix domain socket.
func (p Paths) Socket() string { return filepath.Join(p.Dir, "daemon.sock") }

// DB is the message cache.
func (p Paths) DB() string { return filepath.Join(p.Dir, "roam.db") }

func (p Paths) LogDir() string { return filepath.Join(p.Dir, "logs") }

func (p Paths) Log() string { return filepath.Join(p.LogDir(), "roamd.log") }

// Ensure creates the session directory tree with owner-only permissions.
func (p Paths) Ensure() error {
	for _, d := range []string{p.Dir, p.LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
