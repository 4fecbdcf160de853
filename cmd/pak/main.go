// Command pak creates, inspects, and reads pak archives.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pak:", err)
		os.Exit(1)
	}
}
