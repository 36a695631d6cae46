// Command docindex is the operational CLI for the indexing core: database
// migrations, manual indexing runs and retrieval queries. Consumers integrate
// with the library in-process; this tool exists for operators and debugging.
package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "docindex"}

	root.AddCommand(migrateCMD(), indexCMD(), searchCMD())
	_ = root.Execute()
}
