package main

import "github.com/epine-build/epine/cmd"

func main() {
	cmd.Execute()
}
