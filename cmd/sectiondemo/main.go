// sectiondemo runs a whole section in one process: a handful of adults
// with on-disk chunk stores, an elder, and a client that uploads a blob,
// reads it back and survives one adult leaving.
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/xorvault"
	"github.com/i5heu/xorvault/internal/adult"
	"github.com/i5heu/xorvault/internal/chunkstore"
	"github.com/i5heu/xorvault/internal/config"
	"github.com/i5heu/xorvault/internal/elder"
	"github.com/i5heu/xorvault/internal/loopback"
	"github.com/i5heu/xorvault/pkg/types"
)

const adultCount = 8

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	root, err := os.MkdirTemp("", "sectiondemo")
	if err != nil {
		log.Fatalf("tempdir: %v", err)
	}
	defer os.RemoveAll(root)

	network := loopback.NewNetwork(logger)
	members := make(types.NameSet)
	var names []types.XorName
	var nodes []*adult.Node

	for i := 0; i < adultCount; i++ {
		name := types.NameOf([]byte(fmt.Sprintf("adult-%d", i)))
		store, err := chunkstore.New(chunkstore.Config{
			Root:     filepath.Join(root, name.String()[:8]),
			MaxBytes: cfg.MaxCapacityBytes,
			Logger:   logger,
		})
		if err != nil {
			log.Fatalf("chunk store: %v", err)
		}
		node := adult.NewNode(adult.Config{
			Name:              name,
			ReplicationFactor: cfg.ReplicationFactor,
			Logger:            logger,
		}, store, network, network)
		network.AddAdult(node)
		members.Add(name)
		names = append(names, name)
		nodes = append(nodes, node)
	}
	for _, node := range nodes {
		node.SeedMembers(names)
	}

	view := types.SectionView{Prefix: "", Members: members, Elders: make(types.NameSet)}
	section, err := elder.New(elder.Config{
		Name:              types.NameOf([]byte("elder-0")),
		ReplicationFactor: cfg.ReplicationFactor,
		CacheCapacity:     cfg.CacheCapacity,
		Logger:            logger,
	}, network, view)
	if err != nil {
		log.Fatalf("elder: %v", err)
	}
	defer section.Close()
	network.SetLevelSink(section)

	client, err := xorvault.NewClient(xorvault.Config{
		Elder:          section,
		QueryTimeout:   cfg.QueryTimeout(),
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff(),
		Logger:         logger,
	})
	if err != nil {
		log.Fatalf("client: %v", err)
	}

	ctx := context.Background()
	blob := make([]byte, 1<<20)
	if _, err := rand.Read(blob); err != nil {
		log.Fatalf("rand: %v", err)
	}

	addr, err := client.Upload(ctx, blob)
	if err != nil {
		log.Fatalf("upload: %v", err)
	}
	fmt.Printf("uploaded blob at %s\n", addr)

	got, err := client.Read(ctx, addr)
	if err != nil {
		log.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, blob) {
		log.Fatalf("read returned different bytes")
	}
	fmt.Println("read back ok")

	// Drop one adult and let the section repair.
	leaving := names[0]
	network.RemoveAdult(leaving)
	members.Remove(leaving)
	newView := types.SectionView{Prefix: "", Members: members, Elders: make(types.NameSet)}
	if err := section.HandleChurn(ctx, newView); err != nil {
		log.Fatalf("churn: %v", err)
	}
	fmt.Printf("adult %s left, section repaired\n", leaving.String()[:8])

	got, err = client.Read(ctx, addr)
	if err != nil {
		log.Fatalf("read after churn: %v", err)
	}
	if !bytes.Equal(got, blob) {
		log.Fatalf("read after churn returned different bytes")
	}
	fmt.Println("read after churn ok")
}
