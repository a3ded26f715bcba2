package cmd

import (
	"fmt"
	"io"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=v1.2.3".
var Version = "dev"

const banner = `
       _ _   _ ______   _____                       _ _
      | | \ | |  ____| |  __ \                     | | |
      | |  \| | |__    | |__) |_ _ _   _ _ __ ___ | | |
  _   | | . ` + "`" + ` |  __|   |  ___/ _` + "`" + ` | | | | '__/ _ \| | |
 | |__| | |\  | |      | |  | (_| | |_| | | | (_) | | |
  \____/|_| \_|_|      |_|   \__,_|\__, |_|  \___/|_|_|
                                    __/ |
                                   |___/
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Payroll Portal API - Version %s\x1b[0m\n\n", Version)
}
