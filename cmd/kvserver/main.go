package main

import (
	"context"
	"log"
	"os"

	"github.com/isparth/Distributed-Systems/raftkv/internal/server"
)

func main() {
	if err := server.Run(context.Background(), os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
