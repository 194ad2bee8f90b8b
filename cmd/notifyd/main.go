package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lumeo-crm/notifyd/internal/daemon"
	"github.com/lumeo-crm/notifyd/internal/paths"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "default", "profile name")
	flag.Parse()

	if err := paths.ValidateProfile(*profileFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: *profileFlag}),
	)

	app.Run()
}
