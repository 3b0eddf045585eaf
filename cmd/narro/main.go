// Command narro captions a photo library through pluggable vision
// backends, journaling every outcome so interrupted runs resume without
// redoing completed work.
package main

import (
	"os"

	"github.com/ternarybob/narro/internal/cli"
	"github.com/ternarybob/narro/internal/common"
)

func main() {
	common.InstallCrashHandler("./logs")
	defer common.RecoverWithCrashFile()

	os.Exit(cli.Execute())
}
