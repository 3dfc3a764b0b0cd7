// Command cdil verifies certificates, evidence bundles, decision chains and
// audit ledgers offline. Exit codes: 0 PASS, 1 FAIL, 2 ERROR.
package main

import "os"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
