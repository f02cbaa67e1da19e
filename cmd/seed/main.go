package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"medtrack/internal/catalog"
	"medtrack/internal/config"
	"medtrack/internal/util"
	"medtrack/pkg/storage"
	"medtrack/pkg/store"
)

// Seeds the local drug catalog from a Ministry of Health CSV export,
// either from a file on disk or from the archive bucket.
func main() {
	configPath := flag.String("config", config.ConfigPath, "path to config file")
	filePath := flag.String("file", "", "path to a local MOH catalog CSV")
	objectKey := flag.String("object", "", "archive object key to ingest instead of a local file")
	archive := flag.Bool("archive", false, "upload the local file to the archive bucket after ingest")
	flag.Parse()

	if *filePath == "" && *objectKey == "" {
		log.Fatal("either -file or -object is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}

	var objects storage.ObjectStore
	if *objectKey != "" || *archive {
		objects, err = storage.NewMinioStore(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL)
		if err != nil {
			log.Fatalf("failed to init archive bucket: %v", err)
		}
	}

	ctx := context.Background()

	var reader io.ReadCloser
	var sourceFile string
	if *objectKey != "" {
		reader, err = objects.Get(ctx, *objectKey)
		if err != nil {
			log.Fatalf("failed to fetch archived catalog: %v", err)
		}
		sourceFile = filepath.Base(*objectKey)
	} else {
		reader, err = os.Open(*filePath)
		if err != nil {
			log.Fatalf("failed to open catalog file: %v", err)
		}
		sourceFile = filepath.Base(*filePath)
	}
	defer reader.Close()

	res, err := catalog.NewIngester(dataStore).IngestCSV(ctx, reader, sourceFile)
	if err != nil {
		log.Fatalf("ingest failed: %v", err)
	}
	fmt.Printf("ingested %s: %d imported, %d skipped\n", sourceFile, res.Imported, res.Skipped)

	if *archive && *filePath != "" {
		f, err := os.Open(*filePath)
		if err != nil {
			log.Fatalf("failed to reopen file for archiving: %v", err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			log.Fatalf("failed to stat file: %v", err)
		}
		if err := objects.Put(ctx, sourceFile, f, info.Size(), "text/csv"); err != nil {
			log.Fatalf("failed to archive file: %v", err)
		}
		fmt.Printf("archived %s to bucket %s\n", sourceFile, cfg.Minio.Bucket)
	}
}
