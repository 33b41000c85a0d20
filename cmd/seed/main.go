// Command seed loads a catalog of users, classes, modules, steps and
// enrollments into the slide sync database. With no argument it loads the
// bundled demo catalog.
package main

import (
	"bytes"
	"context"
	_ "embed"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/ndkramer/one80learn-sub000/internal/config"
	"github.com/ndkramer/one80learn-sub000/internal/database"
	pkgdatabase "github.com/ndkramer/one80learn-sub000/pkg/database"
)

//go:embed demo.json
var demoCatalog []byte

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	dbPath := fs.String("db", "", "database path (overrides configuration)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfigWithPrecedence(os.Getenv("SLIDESYNC_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	var src io.Reader = bytes.NewReader(demoCatalog)
	name := "demo"
	if fs.NArg() > 0 {
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			return fmt.Errorf("failed to open catalog: %w", err)
		}
		defer f.Close()
		src, name = f, fs.Arg(0)
	}
	catalog, err := database.DecodeCatalog(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.MigrationsPath = cfg.Database.MigrationsPath
	db, err := database.NewManager(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Database close error: %v", err)
		}
	}()
	if err := pkgdatabase.NewMigrationManager(db.GetDB(), dbConfig.MigrationsPath).ApplyMigrations(); err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	if err := db.LoadCatalog(context.Background(), catalog); err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	log.Printf("Seeded %s catalog into %s: users=%d classes=%d modules=%d steps=%d enrollments=%d",
		name, cfg.Database.Path, len(catalog.Users), len(catalog.Classes), len(catalog.Modules),
		len(catalog.Steps), len(catalog.Enrollments))
	return nil
}
