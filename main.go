package main

import "XSlicer/cmd"

func main() {
	cmd.Execute()
}
