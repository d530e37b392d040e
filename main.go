package main

import "github.com/nextlevelbuilder/graphiti-browser/cmd"

func main() {
	cmd.Execute()
}
