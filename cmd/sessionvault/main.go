package main

import "github.com/jmcleod/sessionvault/cmd/sessionvault/cmd"

func main() {
	cmd.Execute()
}
