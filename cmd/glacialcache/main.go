// Command glacialcache runs the cache service or drives its supporting
// maintenance operations (schema migrations, one-shot health checks).
package main

import (
	"fmt"
	"os"

	"github.com/vitaliisemenov/glacialcache/cmd/glacialcache/cmd"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cmd.SetVersion(version, buildTime, gitCommit)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
