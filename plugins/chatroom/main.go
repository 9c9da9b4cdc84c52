// Builds the chat room extension as a shared object:
//
//	go build -buildmode=plugin -o ChatRoom.so ./plugins/chatroom
package main

import (
	"github.com/rhymu8354/webserver/chatroom"
	"github.com/rhymu8354/webserver/plugin"
)

// LoadPlugin is resolved by the host's shared-object linker.
var LoadPlugin plugin.EntryPoint = chatroom.LoadPlugin

func main() {}
