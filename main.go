package main

import "github.com/brogergvhs/mangabind/cmd"

func main() {
	cmd.Execute()
}
