package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/linedb/internal/index"
)

// indexCommand builds, rebuilds or verifies the sidecar index
func indexCommand(c *cli.Context) error {
	dataPath := c.Args().First()
	if dataPath == "" {
		return errMissingDataFile
	}

	cfg := configFrom(c)
	cachePath := cfg.CachePath(dataPath)

	if c.Bool("verify") {
		ix, err := index.Load(cachePath)
		if err != nil {
			return err
		}
		ok, err := index.Verify(dataPath, ix)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("index %s does not match %s; rebuild with --force", cachePath, dataPath)
		}
		fmt.Fprintf(c.App.Writer, "%s matches %s (%d lines)\n", cachePath, dataPath, ix.Lines())
		return nil
	}

	if err := checkDataFile(dataPath); err != nil {
		return err
	}

	if c.Bool("force") {
		if err := os.Remove(cachePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", cachePath, err)
		}
	}

	ix, err := index.LoadOrBuild(dataPath, cachePath, true, index.WithValidation(cfg.Index.ValidateCache))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s: %d lines indexed in %s\n", dataPath, ix.Lines(), cachePath)
	return nil
}
