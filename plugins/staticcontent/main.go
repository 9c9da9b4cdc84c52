// Builds the static content extension as a shared object:
//
//	go build -buildmode=plugin -o StaticContent.so ./plugins/staticcontent
package main

import (
	"github.com/rhymu8354/webserver/plugin"
	"github.com/rhymu8354/webserver/staticcontent"
)

// LoadPlugin is resolved by the host's shared-object linker.
var LoadPlugin plugin.EntryPoint = staticcontent.LoadPlugin

func main() {}
