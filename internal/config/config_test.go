//nolint:varnamelen // Test files use idiomatic short variable names (t, tt, etc.)
package config_test

import (
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/seedstream/internal/config"
)

func TestParse_Defaults(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	cfg, err := config.Parse(nil)
	g.Expect(err).ShouldNot(HaveOccurred())

	g.Expect(cfg.Listen).Should(Equal(":8080"))
	g.Expect(cfg.DBPath).Should(Equal("seedstream.db"))
	g.Expect(cfg.ConnectTimeout).Should(Equal(10 * time.Second))
	g.Expect(cfg.IdleTimeout).Should(Equal(60 * time.Second))
	g.Expect(cfg.ConnectRate).Should(BeNumerically("==", 1))
	g.Expect(cfg.ConnectBurst).Should(Equal(3))
	g.Expect(cfg.LogLevel).Should(Equal("<root>=INFO"))
	g.Expect(cfg.ShutdownTimeout).Should(Equal(10 * time.Second))
	g.Expect(cfg.Hosts).Should(BeEmpty())
}

func TestParse_Flags(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	cfg, err := config.Parse([]string{
		"--listen", "127.0.0.1:9000",
		"--idle-timeout", "5m",
		"--connect-rate", "0.5",
		"--host", "box=sftp://joe@seedbox.example.com:2222//srv/music?key=/keys/box",
		"--host", "other=sftp://ann@other.example.com/music",
		"--log-level", "<root>=WARNING;seedstream.pool=DEBUG",
	})
	g.Expect(err).ShouldNot(HaveOccurred())

	g.Expect(cfg.Listen).Should(Equal("127.0.0.1:9000"))
	g.Expect(cfg.IdleTimeout).Should(Equal(5 * time.Minute))
	g.Expect(cfg.PoolOptions().ConnectRate).Should(BeNumerically("==", 0.5))
	g.Expect(cfg.PoolOptions().IdleTimeout).Should(Equal(5 * time.Minute))

	g.Expect(cfg.Hosts).Should(HaveLen(2))
	box := cfg.Hosts[0].HostConfig()
	g.Expect(box.ID).Should(Equal("box"))
	g.Expect(box.Address()).Should(Equal("seedbox.example.com:2222"))
	g.Expect(box.Username).Should(Equal("joe"))
	g.Expect(box.PrivateKeyPath).Should(Equal("/keys/box"))
	g.Expect(box.StoredFingerprint).Should(BeEmpty())
	g.Expect(cfg.Hosts[0].Path.Path).Should(Equal("/srv/music"))
	g.Expect(cfg.Hosts[1].HostConfig().Port).Should(Equal(22))
}

func TestParse_Env(t *testing.T) {
	t.Setenv("SEEDSTREAM_DB", "/var/lib/seedstream/catalog.db")
	t.Setenv("SEEDSTREAM_CONNECT_TIMEOUT", "3s")

	g := NewWithT(t)

	cfg, err := config.Parse(nil)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(cfg.DBPath).Should(Equal("/var/lib/seedstream/catalog.db"))
	g.Expect(cfg.ConnectTimeout).Should(Equal(3 * time.Second))
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		args   []string
		errMsg string
	}{
		{name: "zero idle timeout", args: []string{"--idle-timeout", "0s"}, errMsg: "idle-timeout must be positive"},
		{name: "negative connect timeout", args: []string{"--connect-timeout", "-1s"}, errMsg: "connect-timeout must be positive"},
		{name: "zero rate", args: []string{"--connect-rate", "0"}, errMsg: "connect-rate must be positive"},
		{name: "zero burst", args: []string{"--connect-burst", "0"}, errMsg: "connect-burst must be at least 1"},
		{name: "empty listen", args: []string{"--listen", " "}, errMsg: "listen address is required"},
		{name: "bad log level", args: []string{"--log-level", "<root>=LOUD"}, errMsg: "log-level"},
		{name: "host without id", args: []string{"--host", "sftp://joe@box/music"}, errMsg: "id=sftp://"},
		{name: "host without user", args: []string{"--host", "box=sftp://seedbox/music"}, errMsg: "must include username"},
		{name: "local host path", args: []string{"--host", "box=/music"}, errMsg: "expected an sftp:// URL"},
		{
			name:   "duplicate host",
			args:   []string{"--host", "box=sftp://joe@a/m", "--host", "box=sftp://joe@b/m"},
			errMsg: "given twice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			_, err := config.Parse(tt.args)
			g.Expect(err).Should(MatchError(config.ErrInvalidConfig))
			g.Expect(err.Error()).Should(ContainSubstring(tt.errMsg))
		})
	}
}

func TestConfigDescription(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}

	if cfg.Description() == "" {
		t.Error("Description() should not be empty")
	}

	if cfg.Version() == "" {
		t.Error("Version() should not be empty")
	}
}
