package main

import "github.com/lojinha/sms-dispatcher/cmd"

func main() {
	cmd.Execute()
}
