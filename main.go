package main

import "payment_recon/cmd"

func main() {
	cmd.Execute()
}
