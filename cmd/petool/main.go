package main

import "github.com/wanglei-coder/petools/cmd/petool/cmd"

func main() {
	cmd.Execute()
}
