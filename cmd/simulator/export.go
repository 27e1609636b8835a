package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/signalsfoundry/epidemic-simulator/internal/config"
	"github.com/signalsfoundry/epidemic-simulator/internal/persistence"
)

// Files written into each export directory.
const (
	dataFrameFile    = "dataframe.csv"
	demographicsFile = "demographics.csv"
	configFile       = "core.json"
	databaseFile     = "runs.db"
)

// export writes the run's statistics under root/<name>/ and records it in
// root/runs.db. It returns the run directory.
func export(root string, res *result) (string, error) {
	dir := filepath.Join(root, res.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	if err := writeFile(filepath.Join(dir, dataFrameFile), res.Frame.WriteCSV); err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(dir, demographicsFile), res.Demographics.WriteCSV); err != nil {
		return "", err
	}
	if err := config.Save(filepath.Join(dir, configFile), res.Config); err != nil {
		return "", err
	}

	db, err := persistence.Open(filepath.Join(root, databaseFile))
	if err != nil {
		return "", err
	}
	defer db.Close()

	run, err := persistence.NewRun(res.RunID, res.Name, res.Seed, res.Workers, res.Config)
	if err != nil {
		return "", err
	}
	run.Ticks = res.Frame.Len() - 1
	run.StartedAt = res.Started
	run.FinishedAt = res.Finished
	if err := db.SaveRun(run, res.Frame, res.Demographics); err != nil {
		return "", err
	}
	return dir, nil
}

func writeFile(path string, write func(w io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
