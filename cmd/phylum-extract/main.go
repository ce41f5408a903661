// Package main provides the recovery tool: it mounts a raw device image and
// writes every file found in the layout to the working directory.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scigolib/phylum"
)

// mountFailure is the exit code when the image cannot be mounted.
const mountFailure = 2

// defaultDescriptors is the layout the firmware formats devices with.
var defaultDescriptors = []phylum.FileDescriptor{
	{Name: "system", MaximumSize: 100},
	{Name: "emergency.fklog", MaximumSize: 100},
	{Name: "logs-a.fklog", MaximumSize: 2048},
	{Name: "logs-b.fklog", MaximumSize: 2048},
	{Name: "data.fk", MaximumSize: 0},
}

func main() {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "phylum-extract <image>",
		Short: "Extract files from a raw phylum device image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], verbose)
		},
		SilenceUsage: true,
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log filesystem internals")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(path string, verbose bool) error {
	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetOutput(io.Discard)
	}

	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "stat image")
	}

	geometry := phylum.GeometryFromImageSize(info.Size(), phylum.SectorSize)
	fmt.Printf("image: %s (%d bytes, %d blocks)\n", path, info.Size(), geometry.NumberOfBlocks)

	storage := phylum.NewFileStorage(path, geometry, true)
	if err := storage.Open(); err != nil {
		return err
	}
	defer func() { _ = storage.Close() }()

	fs := phylum.NewFileLayoutWithLogger(storage, log)
	if err := fs.Mount(defaultDescriptors); err != nil {
		fmt.Fprintf(os.Stderr, "mount failed: %v\n", err)
		os.Exit(mountFailure)
	}

	for _, fd := range fs.Descriptors() {
		if err := extract(fs, fd.Name); err != nil {
			return errors.Wrapf(err, "extracting %s", fd.Name)
		}
	}

	return nil
}

func extract(fs *phylum.FileLayout, name string) error {
	file, err := fs.Open(name, phylum.OpenRead)
	if err != nil {
		return err
	}

	out, err := os.Create(name)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	defer func() { _ = out.Close() }()

	copied, err := io.Copy(out, file)
	if err != nil {
		return err
	}

	fmt.Printf("%-20s %10d bytes (version %d)\n", name, copied, file.Version())
	return nil
}
