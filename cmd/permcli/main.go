// permcli runs one-shot authorization checks against a model file and a
// policy CSV, the same pair an embedded engine would load.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
