package main

import "github.com/12rambau/pypackage-skeleton/tools/cmd"

func main() {
	cmd.Execute()
}
