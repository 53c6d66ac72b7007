//go:build !unix

package engine

// Directory locking is only enforced on unix platforms
type dirLock struct{}

func lockDirectory(dir string) (*dirLock, error) {
	return &dirLock{}, nil
}

func (l *dirLock) unlock() error {
	return nil
}
