package syncer

import "testing"

func TestFileLockProviderExclusion(t *testing.T) {
	p := NewFileLockProvider(t.TempDir())

	if !p.Acquire("sync-user@example.com") {
		t.Fatal("first Acquire failed")
	}
	if p.Acquire("sync-user@example.com") {
		t.Fatal("second Acquire succeeded while the lock was held")
	}

	p.Release("sync-user@example.com")
	if !p.Acquire("sync-user@example.com") {
		t.Fatal("Acquire failed after Release")
	}
	p.Release("sync-user@example.com")
}

func TestFileLockProviderIndependentNames(t *testing.T) {
	p := NewFileLockProvider(t.TempDir())

	if !p.Acquire("sync-a@example.com") {
		t.Fatal("Acquire for first account failed")
	}
	if !p.Acquire("sync-b@example.com") {
		t.Fatal("lock for one account blocked another account")
	}
	p.Release("sync-a@example.com")
	p.Release("sync-b@example.com")
}

func TestFileLockProviderAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	p1 := NewFileLockProvider(dir)
	p2 := NewFileLockProvider(dir)

	if !p1.Acquire("sync-user@example.com") {
		t.Fatal("first Acquire failed")
	}
	if p2.Acquire("sync-user@example.com") {
		t.Fatal("a second provider acquired a lock held by the first")
	}
	p1.Release("sync-user@example.com")
	if !p2.Acquire("sync-user@example.com") {
		t.Fatal("second provider could not acquire after release")
	}
	p2.Release("sync-user@example.com")
}

func TestFileLockProviderReleaseUnheld(t *testing.T) {
	p := NewFileLockProvider(t.TempDir())
	// Releasing a lock that was never acquired must not panic.
	p.Release("sync-nobody@example.com")
}

func TestLockPathSanitizesName(t *testing.T) {
	p := NewFileLockProvider("/tmp/locks")
	got := p.lockPath("sync-user@example.com/../../etc")
	want := "/tmp/locks/mailsync-sync-user_example.com_.._.._etc.lock"
	if got != want {
		t.Errorf("lockPath = %q, want %q", got, want)
	}
}
