package main

import "github.com/nautilabs/nautifier/cmd"

func main() {
	cmd.Execute()
}
