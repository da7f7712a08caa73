package main

import (
	"pulse/cmd/handlers"
	"pulse/internal/logger"
)

func main() {
	logger.Init() // Initialize the logger
	handlers.Execute()
}
