// Package buildconfig exposes values stamped in at link time:
//
//	go build -ldflags "-X github.com/jmin1219/voku/internal/buildconfig.version=v0.3.0 -X github.com/jmin1219/voku/internal/buildconfig.commit=$(git rev-parse --short HEAD)"
package buildconfig

var (
	version = "dev"
	commit  = "unknown"
)

func Version() string {
	return version
}

func Commit() string {
	return commit
}

// VersionInfo is reported by /health and `vokuctl version`.
func VersionInfo() map[string]string {
	return map[string]string{
		"version": version,
		"commit":  commit,
	}
}

// String formats the build as "version (commit)".
func String() string {
	return version + " (" + commit + ")"
}
