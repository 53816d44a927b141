// selfencrypt encrypts a file into content-addressed chunks on disk and
// prints the resulting blob address.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/i5heu/xorvault/pkg/selfencryption"
)

func main() {
	outDir := flag.String("out", "chunks", "directory to write chunks into")
	ownerHex := flag.String("owner", "", "hex owner key for a private upload")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatalf("usage: selfencrypt [-out dir] [-owner hexkey] <file>")
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatalf("read input: %v", err)
	}

	var ownerPk []byte
	if *ownerHex != "" {
		if _, err := fmt.Sscanf(*ownerHex, "%x", &ownerPk); err != nil {
			log.Fatalf("bad owner key: %v", err)
		}
	}

	addr, chunks, err := selfencryption.EncryptWith(selfencryption.DefaultParams(), data, ownerPk)
	if err != nil {
		log.Fatalf("encrypt: %v", err)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}
	for _, chunk := range chunks {
		path := filepath.Join(*outDir, chunk.Address.String())
		if err := os.WriteFile(path, chunk.Value, 0o644); err != nil {
			log.Fatalf("write chunk: %v", err)
		}
	}

	fmt.Printf("blob address: %s\n", addr)
	fmt.Printf("chunks written: %d\n", len(chunks))
}
