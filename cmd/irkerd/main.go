package main

import "github.com/boklm/irkerd/cmd"

func main() {
	cmd.Execute()
}
