package cmd

import (
	"fmt"
	"io"
)

const banner = `
                        _                              _ _
  ___  ___  ___ ___(_) ___  _ __ __   ____ _ _   _| | |_
 / __|/ _ \/ __/ __| |/ _ \| '_ \\ \ / / _` + "`" + ` | | | | | __|
 \__ \  __/\__ \__ \ | (_) | | | |\ V / (_| | |_| | | |_
 |___/\___||___/___/_|\___/|_| |_| \_/ \__,_|\__,_|_|\__|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Encrypted Session Service - Version %s\x1b[0m\n\n", Version)
}
