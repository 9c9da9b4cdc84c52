// Package version records the server's semantic version.
package version

// Version is the server's semantic version. Builtin plug-ins may declare a
// constraint against it at registration time.
var Version = "1.3.0"
