package main

import "github.com/relaytide/edgegateway/cmd"

func main() {
	cmd.Execute()
}
