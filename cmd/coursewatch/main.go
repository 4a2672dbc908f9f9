package main

import (
	"coursewatch/cmd/coursewatch/commands"
	"coursewatch/lib/osutil"
)

func main() {
	ctx := osutil.SignalContext()
	commands.ExecuteContext(ctx)
}
