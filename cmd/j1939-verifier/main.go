package main

import (
	"os"

	_ "go.uber.org/automaxprocs"
	"k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/obdverify/cmd/j1939-verifier/app"
)

func main() {
	ctx := server.SetupSignalContext()
	if err := app.NewVerifierCommand(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}
