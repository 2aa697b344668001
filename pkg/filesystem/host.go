package filesystem

import (
	"net"
	"strconv"
)

// DefaultSSHPort is used when a HostConfig has no port.
const DefaultSSHPort = 22

// HostConfig identifies a remote seedbox. It is owned by the persistence layer and
// passed by value; a pooled connection belongs to the exact config it was made with.
type HostConfig struct {
	ID                string `json:"id"`
	Host              string `json:"host"`
	Port              int    `json:"port"`
	Username          string `json:"username"`
	PrivateKeyPath    string `json:"privateKeyPath,omitempty"`
	StoredFingerprint string `json:"storedFingerprint,omitempty"`
}

// Address returns host:port, defaulting the port to 22.
func (h HostConfig) Address() string {
	port := h.Port
	if port == 0 {
		port = DefaultSSHPort
	}

	return net.JoinHostPort(h.Host, strconv.Itoa(port))
}

// String returns user@host:port for logs and messages.
func (h HostConfig) String() string {
	return h.Username + "@" + h.Address()
}
