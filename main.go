package main

import "github.com/frahmantamala/viso/cmd"

func main() {
	cmd.Execute()
}
