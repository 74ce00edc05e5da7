package cmd

// Version is set at build time:
//
//	go build -ldflags "-X github.com/xkilldash9x/courier-cli/cmd.Version=1.2.0"
var Version = "0.1.0"
