package main

import "github.com/oshokin/uefi-capsule-extract/cmd/uefi-capsule-extract/cmd"

func main() {
	cmd.Execute()
}
