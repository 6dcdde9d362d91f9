// Command glidauthd serves the glidauth HTTP API.
package main

import (
	"os"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
