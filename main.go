package main

import "github.com/ValentinKolb/kvx/cmd"

func main() {
	cmd.Execute()
}
