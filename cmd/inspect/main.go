// inspect prints the data map inside a root chunk written by selfencrypt.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/i5heu/xorvault/pkg/selfencryption"
	"github.com/i5heu/xorvault/pkg/types"
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatalf("usage: inspect <root-chunk-file>")
	}

	payload, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatalf("read chunk: %v", err)
	}

	fmt.Printf("address: %s\n", types.NameOf(payload))

	dm, err := selfencryption.ParseDataMap(payload)
	if err != nil {
		log.Fatalf("parse data map (private roots need decryption first): %v", err)
	}

	fmt.Printf("level:   %s\n", dm.Level)
	fmt.Printf("entries: %d\n", len(dm.Entries))
	fmt.Printf("bytes:   %d\n", dm.TotalSize())
	for i, e := range dm.Entries {
		fmt.Printf("  %3d  %x  len=%d\n", i, e.PostHash[:8], e.Length)
	}
}
