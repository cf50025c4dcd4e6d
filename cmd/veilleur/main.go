package main

import (
	"veilleur/cmd/handlers"
	"veilleur/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
