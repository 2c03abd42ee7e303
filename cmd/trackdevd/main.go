// Command trackdevd hosts a trackdev Supervisor for manual and integration
// testing. It is not the host-OS companion tool named in spec.md §1 (that
// stays out of scope); it only exercises the engine from a shell.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amigafs/trackdev/internal/backend"
	"github.com/amigafs/trackdev/internal/supervisor"
	"github.com/amigafs/trackdev/internal/trackio/config"
	"github.com/amigafs/trackdev/internal/trackio/log"
	"github.com/amigafs/trackdev/internal/trackio/proto"
)

func main() {
	var logLevel string
	var cacheOpt = config.DefaultCacheOptions()

	rootCmd := &cobra.Command{
		Use:     "trackdevd",
		Short:   "Host process for the trackdev virtual floppy block device",
		Version: "0.1.0",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return log.SetLevel(logLevel)
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (panic, fatal, error, warn, info, debug, trace)")
	config.RegisterCacheFlags(rootCmd.PersistentFlags(), &cacheOpt)

	rootCmd.AddCommand(
		newInsertCmd(&cacheOpt),
		newEjectCmd(&cacheOpt),
		newServeCmd(&cacheOpt),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Errorf(nil, "%v", err)
		os.Exit(1)
	}
}

func newSupervisor(cacheOpt *config.CacheOptions) *supervisor.Supervisor {
	return supervisor.New("trackdev0", backend.Open, backend.Classify, *cacheOpt)
}

func newInsertCmd(cacheOpt *config.CacheOptions) *cobra.Command {
	var unitID uint32
	var writeProtect bool

	cmd := &cobra.Command{
		Use:   "insert <image-path>",
		Short: "Insert a disk image into a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			s := newSupervisor(cacheOpt)
			u := s.OpenUnit(unitID)
			if err := u.Engine.InsertMedia(args[0], writeProtect); err != nil {
				return fmt.Errorf("insert: %w", err)
			}
			fmt.Printf("unit %d: inserted %s\n", unitID, args[0])
			return nil
		},
	}
	cmd.Flags().Uint32Var(&unitID, "unit", 0, "unit number")
	cmd.Flags().BoolVar(&writeProtect, "write-protect", false, "mount read-only")
	return cmd
}

func newEjectCmd(cacheOpt *config.CacheOptions) *cobra.Command {
	var unitID uint32

	cmd := &cobra.Command{
		Use:   "eject",
		Short: "Eject the medium from a unit",
		RunE: func(_ *cobra.Command, _ []string) error {
			s := newSupervisor(cacheOpt)
			u := s.OpenUnit(unitID)
			if err := u.Engine.Eject(); err != nil {
				return fmt.Errorf("eject: %w", err)
			}
			fmt.Printf("unit %d: ejected\n", unitID)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&unitID, "unit", 0, "unit number")
	return cmd
}

func newServeCmd(cacheOpt *config.CacheOptions) *cobra.Command {
	var unitID uint32
	var imagePath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Insert a medium and report its geometry",
		RunE: func(_ *cobra.Command, _ []string) error {
			s := newSupervisor(cacheOpt)
			u := s.OpenUnit(unitID)
			if imagePath != "" {
				if err := u.Engine.InsertMedia(imagePath, false); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			}

			target, err := s.Target(unitID)
			if err != nil {
				return err
			}
			result := s.Router().Dispatch(s.DeviceID(), target, &proto.Request{Command: proto.CmdGetGeometry})
			if result.Err != nil {
				return result.Err
			}
			g := result.Geometry
			fmt.Printf("unit %d: %v geometry, %d sectors/track, %d cylinders, %d heads, %d bytes\n",
				unitID, g.Kind, g.SectorsPerTrack, g.Cylinders, g.Heads, g.DiskSize)

			s.Shutdown()
			return nil
		},
	}
	cmd.Flags().Uint32Var(&unitID, "unit", 0, "unit number")
	cmd.Flags().StringVar(&imagePath, "image", "", "disk image to insert before reporting")
	return cmd
}
