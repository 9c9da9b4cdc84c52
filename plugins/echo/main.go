// Builds the echo extension as a shared object:
//
//	go build -buildmode=plugin -o Echo.so ./plugins/echo
package main

import (
	"github.com/rhymu8354/webserver/echo"
	"github.com/rhymu8354/webserver/plugin"
)

// LoadPlugin is resolved by the host's shared-object linker.
var LoadPlugin plugin.EntryPoint = echo.LoadPlugin

func main() {}
