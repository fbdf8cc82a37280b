package main

import "github.com/Adioame/PhotoMind-sub002/cmd"

func main() {
	cmd.Execute()
}
