package main

import "github.com/dkeye/VoiceMesh/internal/logging"

func main() {
	logging.Init("warn")
	Execute()
}
