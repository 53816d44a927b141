// backup exports a chunk store into an xz archive and restores one from it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/i5heu/xorvault/internal/backup"
	"github.com/i5heu/xorvault/internal/chunkstore"
)

func main() {
	storeRoot := flag.String("store", "data", "chunk store directory")
	flag.Parse()

	if flag.NArg() != 2 {
		log.Fatalf("usage: backup [-store dir] export|import <archive>")
	}
	mode, archive := flag.Arg(0), flag.Arg(1)

	store, err := chunkstore.New(chunkstore.Config{Root: *storeRoot})
	if err != nil {
		log.Fatalf("open chunk store: %v", err)
	}
	ctx := context.Background()

	switch mode {
	case "export":
		f, err := os.Create(archive)
		if err != nil {
			log.Fatalf("create archive: %v", err)
		}
		if err := backup.Export(ctx, store, f); err != nil {
			log.Fatalf("export: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("close archive: %v", err)
		}
		fmt.Printf("exported %s to %s\n", *storeRoot, archive)
	case "import":
		f, err := os.Open(archive)
		if err != nil {
			log.Fatalf("open archive: %v", err)
		}
		defer f.Close()
		restored, err := backup.Import(ctx, store, f)
		if err != nil {
			log.Fatalf("import: %v", err)
		}
		fmt.Printf("restored %d chunks into %s\n", restored, *storeRoot)
	default:
		log.Fatalf("unknown mode %q, want export or import", mode)
	}
}
