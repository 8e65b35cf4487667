package main

import (
	"github.com/vbrowser-pool/controller/command"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	command.Command()
}
