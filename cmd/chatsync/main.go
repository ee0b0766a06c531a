package main

import "github.com/vedran77/chatsync/cmd/chatsync/cmd"

func main() {
	cmd.Execute()
}
