package main

import "fanlink-client/cmd"

func main() {
	cmd.Execute()
}
