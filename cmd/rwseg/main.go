// Command rwseg segments point clouds with a random walker on a
// nearest-neighbour graph.
//
// Usage:
//
//	rwseg [flags] <command> [args]
//
// Commands:
//
//	segment  - segment a PCD cloud from labelled seeds
//	graph    - build and cache the weighted graph of a cloud
//	seeds    - write seed points to a labelled PCD file
//	runs     - inspect stored segmentation runs
//	config   - print the default configuration
//	version  - print build information
package main

import (
	"fmt"
	"os"

	"github.com/banshee-data/pointseg/cmd/rwseg/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
