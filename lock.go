package hyperbase

import (
	"path/filepath"
	"syscall"

	. "github.com/stevegt/goadapt"
)

// ExLock uses syscall.Flock to get an exclusive lock (LOCK_EX) on the
// lock file for `key`, creating the file if needed.  Blocks until the
// lock is available.  The chat daemon takes this around the
// read-rootnode, append, relink sequence so concurrent posts to one
// item serialize instead of losing records.
func (hs *Hs) ExLock(key string) (fd uintptr, err error) {
	return hs.lock(key, syscall.LOCK_EX)
}

// ShLock uses syscall.Flock to get a shared lock (LOCK_SH) on the
// lock file for `key`.
func (hs *Hs) ShLock(key string) (fd uintptr, err error) {
	return hs.lock(key, syscall.LOCK_SH)
}

func (hs *Hs) lock(key string, how int) (fd uintptr, err error) {
	defer Return(&err)
	lockpath := filepath.Join(hs.Dir, "lock", key+".lock")
	err = mkdir(filepath.Dir(lockpath), 0755)
	Ck(err)
	// raw syscall.Open rather than os.OpenFile: we hand the bare fd to
	// the caller, and an *os.File finalizer would close it behind our
	// back and drop the lock
	rawfd, err := syscall.Open(lockpath, syscall.O_CREAT|syscall.O_RDWR, 0644)
	Ck(err)
	err = syscall.Flock(rawfd, how)
	Ck(err)
	return uintptr(rawfd), nil
}

// Unlock releases a lock taken by ExLock or ShLock and closes its fd.
func (hs *Hs) Unlock(fd uintptr) (err error) {
	defer Return(&err)
	err = syscall.Flock(int(fd), syscall.LOCK_UN)
	Ck(err)
	err = syscall.Close(int(fd))
	Ck(err)
	return
}
