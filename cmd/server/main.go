package main

import "github.com/iliyamo/eventapp/cmd/server/cmd"

func main() {
	cmd.Execute()
}
