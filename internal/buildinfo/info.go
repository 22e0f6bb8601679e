package buildinfo

import "fmt"

var (
	// Version 由 ldflags 於建置時注入
	Version = "dev"
	// Commit 由 ldflags 於建置時注入
	Commit = "none"
	// Date 由 ldflags 於建置時注入
	Date = "unknown"
)

// String 版本資訊的單行表示
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}
