// Package version holds iotclient build metadata.
//
// Release builds stamp it with ldflags:
//
//	go build -ldflags "-X github.com/rickgao/iot-relay/internal/version.Version=1.2.0 \
//	                   -X github.com/rickgao/iot-relay/internal/version.Commit=$(git rev-parse --short HEAD)" \
//	    ./cmd/iotclient
package version

// Set via ldflags; the defaults mark a local build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns the line printed by --version.
func String() string {
	return "iotclient " + Version + " (" + Commit + ") built " + BuildTime
}

// UserAgent identifies the client to the relay's subscribe endpoint.
func UserAgent() string {
	if Commit == "unknown" {
		return "iotclient/" + Version
	}
	return "iotclient/" + Version + "+" + Commit
}
