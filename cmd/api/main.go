// Command api serves the merchant, operator and provider callback APIs and
// runs the notification and reconciliation workers in the same process.
package main

import (
	"fmt"
	"os"

	"github.com/ayo6706/payment-aggregator/internal/app"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Println(version)
		return
	}
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "paygate:", err)
		os.Exit(1)
	}
}
