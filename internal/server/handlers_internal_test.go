//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package server

import (
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/seedstream/internal/catalog"
	"github.com/joe/seedstream/pkg/filesystem"
)

func newTestServer(t *testing.T) (*Server, *catalog.Catalog) {
	t.Helper()

	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { _ = cat.Close() })

	pool := filesystem.NewConnectionPool(filesystem.PoolOptions{})
	t.Cleanup(func() { _ = pool.CloseAll() })

	host := catalog.Host{HostConfig: filesystem.HostConfig{ID: "box", Host: "seedbox.example.com", Username: "joe"}}
	if err := cat.PutHost(host); err != nil {
		t.Fatalf("put host: %v", err)
	}

	return New(Options{Catalog: cat, Pool: pool}), cat
}

// TestApplyVerdict_AcceptRacesAnotherAccept covers an accept whose host record
// was read before another test stored a fingerprint.
func TestApplyVerdict_AcceptRacesAnotherAccept(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		observed    string
		wantSuccess bool
		wantMessage string
	}{
		{name: "different key is refused", observed: "SHA256:attacker", wantSuccess: false, wantMessage: "WARNING"},
		{name: "same key matches", observed: "SHA256:real", wantSuccess: true, wantMessage: "accepted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			s, cat := newTestServer(t)

			stale, err := cat.GetHost("box")
			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(stale.StoredFingerprint).Should(BeEmpty())

			g.Expect(cat.SetFingerprint("box", "SHA256:real")).Should(Succeed())

			result := s.applyVerdict(stale.HostConfig, tt.observed, true)
			g.Expect(result.Success).Should(Equal(tt.wantSuccess))
			g.Expect(result.NeedsAcceptance).Should(BeFalse())
			g.Expect(result.Message).Should(ContainSubstring(tt.wantMessage))
			g.Expect(result.Fingerprint).Should(Equal(tt.observed))

			current, err := cat.GetHost("box")
			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(current.StoredFingerprint).Should(Equal("SHA256:real"))
		})
	}
}

// TestApplyVerdict_AcceptAfterClear verifies a cleared host can accept a new key.
func TestApplyVerdict_AcceptAfterClear(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	s, cat := newTestServer(t)
	g.Expect(cat.SetFingerprint("box", "SHA256:old")).Should(Succeed())
	g.Expect(cat.ClearFingerprint("box")).Should(Succeed())

	host, err := cat.GetHost("box")
	g.Expect(err).ShouldNot(HaveOccurred())

	result := s.applyVerdict(host.HostConfig, "SHA256:new", true)
	g.Expect(result.Success).Should(BeTrue())

	host, err = cat.GetHost("box")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(host.StoredFingerprint).Should(Equal("SHA256:new"))
}
