package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/gophdine/internal/mockapi"
)

func main() {

	ctx := context.Background()

	cfg, err := mockapi.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	app, err := mockapi.NewApp(cfg, os.Stderr)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	if err := app.Run(ctx, os.Stdout); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

}
