package main

import "github.com/fmarek/bugrelay/cmd"

func main() {
	cmd.Execute()
}
