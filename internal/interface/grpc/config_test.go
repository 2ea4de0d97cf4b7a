package grpcservice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) uint32 {
	lis, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())
	return uint32(port)
}

func TestConfigValidate(t *testing.T) {
	port := freePort(t)
	adminPort := freePort(t)
	for adminPort == port {
		adminPort = freePort(t)
	}

	t.Run("valid", func(t *testing.T) {
		cfg := Config{Datadir: t.TempDir(), Port: port, AdminPort: adminPort, NoTLS: true}
		require.NoError(t, cfg.Validate())
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			name      string
			adminPort uint32
		}{
			{name: "admin port unset", adminPort: 0},
			{name: "admin port shared with service", adminPort: port},
		}
		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				cfg := Config{
					Datadir: t.TempDir(), Port: port, AdminPort: f.adminPort, NoTLS: true,
				}
				err := cfg.Validate()
				require.Error(t, err)
				require.Contains(t, err.Error(), "admin port must be set")
			})
		}
	})
}
