package main

import "github.com/CefBoud/peerbus/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
