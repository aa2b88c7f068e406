package main

import (
	"regreport/cmd/regreport/commands"
	"regreport/pkg/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
