package main

import "github.com/aelahi23/Corda-BNO-membership/cmd"

func main() {
	cmd.Execute()
}
