package main

import "github.com/jmehdipour/mvola-gateway/cmd"

func main() {
	cmd.Execute()
}
