package main

import "loadcast/cmd"

func main() {
	cmd.Execute()
}
