// Command sdfat inspects and changes the FAT32 SD card of a SABT device, or an
// image of it, with the same engine the firmware uses.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/sabt-braille/sdfat"
	"github.com/sabt-braille/sdfat/device"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

// card is what every device of the device package offers.
type card interface {
	sdfat.BlockDevice
	Sectors() uint32
	Sync() error
	Close() error
}

// hostFs is where images and host files are read from.
var hostFs = afero.NewOsFs()

func main() {
	app := &cli.App{
		Name:    "sdfat",
		Usage:   "read and write the FAT32 SD card of a SABT device",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "image",
				Aliases:  []string{"i"},
				Usage:    "disk image or block device of the card",
				EnvVars:  []string{"SDFAT_IMAGE"},
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "raw",
				Usage:   "open the image as raw block device",
				EnvVars: []string{"SDFAT_RAW"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log the volume geometry and debug output",
				EnvVars: []string{"SDFAT_VERBOSE"},
			},
			&cli.BoolFlag{
				Name:  "require-fsinfo",
				Usage: "refuse cards with a damaged FSInfo sector",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "info",
				Usage:  "show partition, geometry and free space",
				Action: withCard(false, info),
			},
			{
				Name:    "ls",
				Aliases: []string{"list"},
				Usage:   "list the root directory",
				Action:  withCard(false, list),
			},
			{
				Name:   "tree",
				Usage:  "list all directories recursively",
				Action: withCard(false, tree),
			},
			{
				Name:      "cat",
				Usage:     "print a file",
				ArgsUsage: "PATH",
				Action:    withCard(false, cat),
			},
			{
				Name:      "write",
				Usage:     "create or replace a file with the content of a host file",
				ArgsUsage: "NAME HOSTFILE",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "existing", Usage: "fail if the file does not exist yet"},
				},
				Action: withCard(true, write),
			},
			{
				Name:      "append",
				Usage:     "append the content of a host file to a file",
				ArgsUsage: "NAME HOSTFILE",
				Action:    withCard(true, appendFile),
			},
			{
				Name:      "rm",
				Usage:     "delete a file of the root directory",
				ArgsUsage: "NAME...",
				Action:    withCard(true, remove),
			},
			{
				Name:      "lookup",
				Usage:     "look up words in a dictionary file",
				ArgsUsage: "WORD...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dict", Aliases: []string{"d"}, Value: "DICT.TXT", Usage: "dictionary file name"},
					&cli.IntFlag{Name: "max-clusters", Value: sdfat.MaxDictClusters, Usage: "cluster bound, negative for none"},
				},
				Action: withCard(false, lookup),
			},
			{
				Name:  "format",
				Usage: "write an empty FAT32 volume",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "create", Usage: "create an image of this many sectors first"},
					&cli.IntFlag{Name: "spc", Value: 8, Usage: "sectors per cluster"},
					&cli.StringFlag{Name: "label", Value: "SABT", Usage: "volume label"},
					&cli.BoolFlag{Name: "no-mbr", Usage: "write the volume without partition table"},
				},
				Action: format,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logger(c *cli.Context) *slog.Logger {
	level := slog.LevelWarn
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openCard(c *cli.Context, writable bool) (card, error) {
	path := c.String("image")
	if c.Bool("raw") {
		return device.OpenRaw(path, writable)
	}
	return device.OpenImage(hostFs, path, writable)
}

// withCard mounts the card around a command and syncs it afterwards.
func withCard(writable bool, action func(*cli.Context, *sdfat.Fs) error) cli.ActionFunc {
	return func(c *cli.Context) (err error) {
		dev, err := openCard(c, writable)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := dev.Close(); err == nil {
				err = closeErr
			}
		}()

		config := sdfat.Config{
			Logger:        logger(c),
			Verbose:       c.Bool("verbose"),
			RequireFSInfo: c.Bool("require-fsinfo"),
		}
		if c.IsSet("max-clusters") {
			config.DictionaryClusters = c.Int("max-clusters")
		}

		fat, err := sdfat.New(dev, config)
		if err != nil {
			return err
		}

		if err := action(c, fat); err != nil {
			return err
		}

		if !writable {
			return nil
		}
		if err := fat.Close(); err != nil {
			return err
		}
		return dev.Sync()
	}
}

func info(c *cli.Context, fat *sdfat.Fs) error {
	p := fat.Partition()
	v := fat.Volume()
	stats, err := fat.Stats()
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "label:          %s\n", v.Label)
	fmt.Fprintf(w, "partition:      type 0x%02X, start %d, %d sectors\n", p.Type, p.Start, p.Size)
	fmt.Fprintf(w, "cluster size:   %d bytes\n", v.ClusterSize())
	fmt.Fprintf(w, "clusters:       %d\n", v.TotalClusters)
	fmt.Fprintf(w, "FATs:           %d x %d sectors\n", v.NumFATs, v.FATSize)
	fmt.Fprintf(w, "root cluster:   %d\n", v.RootCluster)
	fmt.Fprintf(w, "next free:      %d\n", fat.NextFreeHint())
	fmt.Fprintf(w, "free:           %d of %d bytes\n", stats.FreeBytes, stats.TotalBytes)
	return nil
}

func list(c *cli.Context, fat *sdfat.Fs) error {
	files, err := fat.ListFiles()
	if err != nil {
		return err
	}

	for _, file := range files {
		fmt.Fprintf(c.App.Writer, "%s %10d %s %s\n", file.Mode(), file.Size(), file.ModTime().Format("2006-01-02 15:04"), file.Name())
	}
	return nil
}

func tree(c *cli.Context, fat *sdfat.Fs) error {
	return fs.WalkDir(fat.FS(), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			path += "/"
		}
		fmt.Fprintln(c.App.Writer, path)
		return nil
	})
}

func cat(c *cli.Context, fat *sdfat.Fs) error {
	if c.NArg() != 1 {
		return cli.Exit("cat needs exactly one PATH", 2)
	}

	// Paths may lead into sub directories.
	data, err := afero.ReadFile(fat, c.Args().First())
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(data)
	return err
}

// readHost reads a host file, "-" is stdin.
func readHost(c *cli.Context, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(c.App.Reader)
	}
	return afero.ReadFile(hostFs, name)
}

func write(c *cli.Context, fat *sdfat.Fs) error {
	if c.NArg() != 2 {
		return cli.Exit("write needs NAME and HOSTFILE", 2)
	}

	data, err := readHost(c, c.Args().Get(1))
	if err != nil {
		return err
	}

	if c.Bool("existing") {
		return fat.ReplaceContents(c.Args().First(), data)
	}
	return fat.WriteFile(c.Args().First(), data)
}

func appendFile(c *cli.Context, fat *sdfat.Fs) error {
	if c.NArg() != 2 {
		return cli.Exit("append needs NAME and HOSTFILE", 2)
	}

	data, err := readHost(c, c.Args().Get(1))
	if err != nil {
		return err
	}

	if err := fat.OpenAppend(c.Args().First()); err != nil {
		return err
	}
	return fat.AppendFile(data)
}

func remove(c *cli.Context, fat *sdfat.Fs) error {
	if c.NArg() == 0 {
		return cli.Exit("rm needs at least one NAME", 2)
	}

	for _, name := range c.Args().Slice() {
		if err := fat.DeleteFile(name); err != nil {
			return err
		}
	}
	return nil
}

func lookup(c *cli.Context, fat *sdfat.Fs) error {
	if err := fat.InitDictionary(c.String("dict")); err != nil {
		return err
	}

	missing := 0
	for _, word := range c.Args().Slice() {
		found, err := fat.LookupWord(word)
		if err != nil {
			return err
		}
		if !found {
			missing++
		}
		fmt.Fprintf(c.App.Writer, "%s\t%t\n", word, found)
	}

	if missing > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func format(c *cli.Context) error {
	log := logger(c)
	path := c.String("image")

	var dev card
	var err error
	switch sectors := c.Uint64("create"); {
	case sectors > 0 && c.Bool("raw"):
		return errors.New("--create cannot be used with --raw")
	case sectors > 0:
		dev, err = device.CreateImage(hostFs, path, uint32(sectors))
	default:
		dev, err = openCard(c, true)
	}
	if err != nil {
		return err
	}
	defer dev.Close()

	opts := sdfat.FormatOptions{
		SectorsPerCluster: uint8(c.Int("spc")),
		Label:             c.String("label"),
	}
	if c.Bool("no-mbr") {
		opts.PartitionStart = -1
	}

	log.Info("formatting", slog.String("image", path), slog.Uint64("sectors", uint64(dev.Sectors())))
	if err := sdfat.Format(dev, dev.Sectors(), opts); err != nil {
		return err
	}
	return dev.Sync()
}
