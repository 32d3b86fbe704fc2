package cluster

import "sync"

// clusters holds one Transport per (appName, groupName) pair for the
// life of the process, so repeated calls to GetCluster from unrelated
// parts of a program share a single socket set instead of each opening
// their own.
var (
	clustersMu sync.Mutex
	clusters   = make(map[string]*Transport)
)

// GetCluster returns the Transport for (appName, groupName), starting
// one with processor and a fresh InMemoryActorRegistry if this is the
// first call for that pair. processor is ignored on a cache hit — the
// first caller's choice wins, matching a put-if-absent.
func GetCluster(appName, groupName string, processor MessageProcessor) (*Transport, error) {
	key := appName + "\x00" + groupName

	clustersMu.Lock()
	defer clustersMu.Unlock()

	if t, ok := clusters[key]; ok {
		return t, nil
	}
	t, err := New(appName, groupName, processor, nil)
	if err != nil {
		return nil, err
	}
	clusters[key] = t
	return t, nil
}
