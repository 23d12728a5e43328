package main

import (
	"flag"
	"log"

	"github.com/danmuck/trictl/internal/config"
)

func main() {
	kind := flag.String("kind", "transfer", "config kind: transfer|transfer-tls")
	output := flag.String("output", "cmd/trictl/config.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "cmd/trictl/config.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		if _, err := config.LoadTransferConfig(*input); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated transfer config at %s", *input)
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, *output)
}
