package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "webink",
		Short: "webInk renders web pages into e-ink tiles and serves them over HTTP and TCP.",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newRenderCmd())

	return root
}
