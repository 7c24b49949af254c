package relay

import (
	"strings"

	mapset "github.com/deckarep/golang-set"
)

// blocklist holds addresses of devices that failed GATT checks. The
// orchestrator adds to it; the scan goroutine reads it.
type blocklist struct {
	addrs mapset.Set
}

func newBlocklist() *blocklist {
	return &blocklist{addrs: mapset.NewSet()}
}

func (b *blocklist) add(address string) {
	b.addrs.Add(strings.ToUpper(address))
}

func (b *blocklist) has(address string) bool {
	return b.addrs.Contains(strings.ToUpper(address))
}
