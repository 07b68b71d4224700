// Package main implements the relmeta-inspect tool: it opens a metadata
// catalog, builds partition descriptors and answers routing and parent
// lookups from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/relmeta/relmeta/internal/app"
	"github.com/relmeta/relmeta/internal/config"
	"github.com/relmeta/relmeta/internal/relcache"
	"github.com/relmeta/relmeta/pkg/types"
)

type flags struct {
	configPath string
	relid      uint
	probe      string
	parentOf   uint
}

func main() {
	f := parseFlags()

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relmeta-inspect: %v\n", err)
		os.Exit(1)
	}
	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relmeta-inspect: %v\n", err)
		os.Exit(1)
	}
	log := a.Log()
	if err := a.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Stop()
	store := a.Store

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch {
	case f.parentOf != 0:
		err = lookupParent(ctx, store, types.RelationID(f.parentOf))
	case f.relid != 0 && f.probe != "":
		err = probeValue(ctx, store, types.RelationID(f.relid), f.probe)
	case f.relid != 0:
		err = dumpDescriptor(ctx, store, types.RelationID(f.relid))
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("inspection failed")
	}
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to config file (YAML or JSON)")
	flag.UintVar(&f.relid, "relid", 0, "Relation to inspect")
	flag.StringVar(&f.probe, "probe", "", "Partitioning-key value to route (with -relid)")
	flag.UintVar(&f.parentOf, "parent-of", 0, "Look up the parent of a partition")
	flag.Parse()
	return f
}

func loadConfig(path string) (*config.Config, error) {
	config.LoadDotEnv()
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func dumpDescriptor(ctx context.Context, store *relcache.Store, relid types.RelationID) error {
	return store.WithDescriptor(ctx, relid, func(d *relcache.Descriptor) error {
		fmt.Printf("relation %s\n", d.Relid())
		fmt.Printf("  kind:          %s\n", d.Kind())
		fmt.Printf("  expression:    %s\n", d.Expression().Canonicalize())
		fmt.Printf("  result type:   %s\n", d.TypeInfo().ID)
		fmt.Printf("  enable parent: %v\n", d.EnableParent())
		if d.Incomplete() {
			fmt.Printf("  incomplete:    true (concurrent schema change)\n")
		}

		if d.Kind() == types.KindRange {
			fmt.Printf("  partitions (%d):\n", len(d.Children()))
			for _, r := range d.Ranges() {
				fmt.Printf("    %-10s [%s, %s)\n", r.Child, r.Min, r.Max)
			}
			return nil
		}
		fmt.Printf("  hash slots (%d):\n", len(d.Children()))
		for i, child := range d.Children() {
			if child.Valid() {
				fmt.Printf("    %4d -> %s\n", i, child)
			} else {
				fmt.Printf("    %4d -> (mid-attach)\n", i)
			}
		}
		return nil
	})
}

func probeValue(ctx context.Context, store *relcache.Store, relid types.RelationID, raw string) error {
	return store.WithDescriptor(ctx, relid, func(d *relcache.Descriptor) error {
		value, err := parseValue(raw, d.TypeInfo().ID)
		if err != nil {
			return err
		}
		child, err := store.SelectPartition(d, value)
		if err != nil {
			return err
		}
		fmt.Printf("%s -> %s\n", raw, child)
		return nil
	})
}

func lookupParent(ctx context.Context, store *relcache.Store, child types.RelationID) error {
	res, err := store.Parents().Lookup(ctx, child)
	if err != nil {
		return err
	}
	switch res.Status {
	case relcache.LookupParentFound:
		fmt.Printf("%s -> parent %s\n", child, res.Parent)
	case relcache.LookupNonPartition:
		fmt.Printf("%s is not a partition\n", child)
	case relcache.LookupIndeterminate:
		fmt.Printf("%s: answer depends on an in-flight schema change, retry\n", child)
	default:
		fmt.Printf("%s: no such relation\n", child)
	}
	return nil
}

// parseValue interprets the probe string as a value of the partitioning
// expression's result type.
func parseValue(raw string, t types.TypeID) (types.Value, error) {
	switch t {
	case types.TypeInt64, types.TypeTimestamp:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("probe value %q is not an integer: %w", raw, err)
		}
		return v, nil
	case types.TypeFloat64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("probe value %q is not a number: %w", raw, err)
		}
		return v, nil
	case types.TypeText, types.TypeBytes:
		return []byte(raw), nil
	default:
		return nil, fmt.Errorf("cannot parse a value of type %s", t)
	}
}
