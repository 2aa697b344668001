//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package filesystem_test

import (
	"errors"
	"io/fs"
	"os"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/seedstream/pkg/filesystem"
)

var errCloseFailed = errors.New("close failed")

// mockSFTPFile is a File with scripted behaviour.
type mockSFTPFile struct {
	readAtFunc func(p []byte, off int64) (int, error)
	closeErr   error
	closes     int
}

func (f *mockSFTPFile) ReadAt(p []byte, off int64) (int, error) {
	if f.readAtFunc != nil {
		return f.readAtFunc(p, off)
	}

	return 0, nil
}

func (f *mockSFTPFile) Close() error {
	f.closes++
	return f.closeErr
}

func (f *mockSFTPFile) Stat() (os.FileInfo, error) {
	return nil, nil //nolint:nilnil // Not exercised
}

// TestPooledSFTPFile_ReadAt_DelegatesToWrappedFile tests that ReadAt delegates.
func TestPooledSFTPFile_ReadAt_DelegatesToWrappedFile(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	var gotOff int64

	file := &mockSFTPFile{readAtFunc: func(p []byte, off int64) (int, error) {
		gotOff = off
		return copy(p, "data"), nil
	}}

	pooled, err := filesystem.NewPooledSFTPFile(file, func() {})
	g.Expect(err).ShouldNot(HaveOccurred())

	buf := make([]byte, 8)
	n, err := pooled.ReadAt(buf, 42)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(string(buf[:n])).Should(Equal("data"))
	g.Expect(gotOff).Should(BeEquivalentTo(42))
}

// TestPooledSFTPFile_Close_ReleasesOnce tests that Close is idempotent and releases once.
func TestPooledSFTPFile_Close_ReleasesOnce(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	releases := 0
	file := &mockSFTPFile{}

	pooled, err := filesystem.NewPooledSFTPFile(file, func() { releases++ })
	g.Expect(err).ShouldNot(HaveOccurred())

	g.Expect(pooled.Close()).Should(Succeed())
	g.Expect(pooled.Close()).Should(Succeed())
	g.Expect(releases).Should(Equal(1))
	g.Expect(file.closes).Should(Equal(1))

	_, err = pooled.ReadAt(make([]byte, 1), 0)
	g.Expect(err).Should(MatchError(fs.ErrClosed))

	_, err = pooled.Stat()
	g.Expect(err).Should(MatchError(fs.ErrClosed))
}

// TestPooledSFTPFile_Close_ReleasesEvenOnError tests that a failing close still releases the lease.
func TestPooledSFTPFile_Close_ReleasesEvenOnError(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	released := false
	file := &mockSFTPFile{closeErr: errCloseFailed}

	pooled, err := filesystem.NewPooledSFTPFile(file, func() { released = true })
	g.Expect(err).ShouldNot(HaveOccurred())

	g.Expect(pooled.Close()).Should(MatchError(errCloseFailed))
	g.Expect(released).Should(BeTrue())
}

// TestNewPooledSFTPFile_RejectsNil tests constructor validation.
func TestNewPooledSFTPFile_RejectsNil(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	_, err := filesystem.NewPooledSFTPFile(nil, func() {})
	g.Expect(err).Should(HaveOccurred())

	_, err = filesystem.NewPooledSFTPFile(&mockSFTPFile{}, nil)
	g.Expect(err).Should(HaveOccurred())
}
