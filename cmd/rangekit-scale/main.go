package main

import (
	"rangekit/internal/scale"
	"rangekit/pkg/app"

	// Register the bundled scale plugins.
	_ "rangekit/internal/scale/plugins"
)

func main() {
	app.Main(scale.New())
}
