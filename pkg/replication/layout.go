package replication

import "github.com/tesseradb/replication/pkg/coordstore"

// DefaultBasePath is the root of the replication hierarchy in the
// coordination store.
const DefaultBasePath = "replication"

// PeersRoot returns the store prefix under which peer entries live. Store
// watchers scope their subscriptions to it.
func PeersRoot(base string) string {
	return newLayout(base).peersRoot()
}

// layout builds the store keys for one replication namespace:
//
//	<base>/peers/<peerId>              peer config (framed JSON)
//	<base>/peers/<peerId>/state        ENABLED or DISABLED
//	<base>/rs/<server>                 replicator marker
//	<base>/rs/<server>/<queueId>       queue marker
//	<base>/rs/<server>/<queueId>/<wal> last acked position
//	<base>/hfile-refs/<peerId>         ref-set container
//	<base>/hfile-refs/<peerId>/<file>  pending bulk-load file
type layout struct {
	base string
}

func newLayout(base string) layout {
	if base == "" {
		base = DefaultBasePath
	}
	return layout{base: base}
}

func (l layout) peersRoot() string {
	return coordstore.JoinKey(l.base, "peers")
}

func (l layout) peerKey(peerID string) string {
	return coordstore.JoinKey(l.base, "peers", peerID)
}

func (l layout) peerStateKey(peerID string) string {
	return coordstore.JoinKey(l.base, "peers", peerID, "state")
}

func (l layout) replicatorsRoot() string {
	return coordstore.JoinKey(l.base, "rs")
}

func (l layout) replicatorKey(server ServerName) string {
	return coordstore.JoinKey(l.base, "rs", server.String())
}

func (l layout) queueKey(server ServerName, queueID string) string {
	return coordstore.JoinKey(l.base, "rs", server.String(), queueID)
}

func (l layout) walKey(server ServerName, queueID, fileName string) string {
	return coordstore.JoinKey(l.base, "rs", server.String(), queueID, fileName)
}

func (l layout) hfileRefsRoot() string {
	return coordstore.JoinKey(l.base, "hfile-refs")
}

func (l layout) hfileRefsPeerKey(peerID string) string {
	return coordstore.JoinKey(l.base, "hfile-refs", peerID)
}

func (l layout) hfileRefKey(peerID, fileName string) string {
	return coordstore.JoinKey(l.base, "hfile-refs", peerID, fileName)
}
