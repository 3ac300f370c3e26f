package main

import "github.com/coxswain-cd/coxswain/cmd/root"

func main() {
	root.Execute()
}
