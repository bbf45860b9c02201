package syncer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// LockProvider grants exclusive, account-scoped sync locks. Acquire
// returns false when the lock is already held, which is a skip signal,
// not an error.
type LockProvider interface {
	Acquire(name string) bool
	Release(name string)
}

// FileLockProvider uses OS advisory file locks, so a crashed sync never
// wedges its account: the kernel drops the lock with the process.
type FileLockProvider struct {
	dir string

	mu   sync.Mutex
	held map[string]*os.File
}

// NewFileLockProvider creates a provider writing lock files under dir
// (os.TempDir() when empty).
func NewFileLockProvider(dir string) *FileLockProvider {
	if dir == "" {
		dir = os.TempDir()
	}
	return &FileLockProvider{
		dir:  dir,
		held: make(map[string]*os.File),
	}
}

// Acquire takes the named lock without blocking.
func (p *FileLockProvider) Acquire(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.held[name]; ok {
		return false
	}

	f, err := os.OpenFile(p.lockPath(name), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return false
	}

	_ = f.Truncate(0)
	fmt.Fprintf(f, "%d\n", os.Getpid())

	p.held[name] = f
	return true
}

// Release drops the named lock.
func (p *FileLockProvider) Release(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.held[name]
	if !ok {
		return
	}
	delete(p.held, name)

	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
	_ = os.Remove(p.lockPath(name))
}

// lockPath sanitizes the lock name into a file path.
func (p *FileLockProvider) lockPath(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '@', ' ':
			return '_'
		}
		return r
	}, name)
	return filepath.Join(p.dir, "mailsync-"+safe+".lock")
}
