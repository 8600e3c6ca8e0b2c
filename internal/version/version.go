// Package version carries build metadata for chatgate binaries, injected with
// -ldflags "-X chatgate/internal/version.Version=... -X ...GitCommit=... -X ...BuildDate=...".
package version

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Info is the build metadata plus the identity of this running process.
// InstanceID differs between restarts; it tells replicas apart in logs and
// health output where the configured instance name does not.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the process metadata, computed on first use.
func GetInfo() Info {
	once.Do(func() {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "unknown"
		}
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.NewString(),
			Hostname:   hostname,
		}
	})
	return info
}

func (i Info) String() string {
	return fmt.Sprintf("chatgate %s (commit %s, built %s)", i.Version, i.GitCommit, i.BuildDate)
}

// UserAgent identifies a chatgate component in outbound requests and
// broker connection names.
func (i Info) UserAgent(component string) string {
	return fmt.Sprintf("chatgate-%s/%s", component, i.Version)
}
