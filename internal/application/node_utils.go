package application

import (
	"fmt"
	"os"
	"strings"

	"github.com/Shugur-Network/proxypool/internal/config"
	"github.com/Shugur-Network/proxypool/internal/storage"
)

// readInitialList reads the seed file: address:port entries separated by
// any whitespace. An empty path means no seed.
func readInitialList(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read initial list: %w", err)
	}
	return strings.Fields(string(data)), nil
}

// Config returns the node's configuration.
func (n *Node) Config() *config.Config {
	return n.config
}

// Store returns the snapshot backend, nil when persistence is disabled.
func (n *Node) Store() storage.Backend {
	return n.store
}

// Addr returns the address the API listens on once started.
func (n *Node) Addr() string {
	return n.apiAddr
}
