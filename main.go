package main

import "github.com/stleox/chrometrace/pkg/cmd"

func main() {
	cmd.Execute()
}
