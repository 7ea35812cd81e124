// Command etl retrieves humanitarian indicators from external providers,
// resolves their locations against a gazetteer, and stores normalized
// observations.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
