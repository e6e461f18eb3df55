package main

import "github.com/TheusHen/tlscodec/cmd/tlscodec/cmd"

func main() {
	cmd.Execute()
}
