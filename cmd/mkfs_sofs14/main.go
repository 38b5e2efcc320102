// mkfs_sofs14 formats a regular file as a SOFS14 volume.
package main

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/luminoso/SOFS14/fs"
)

// defaults may come from the environment; flags override them.
type envDefaults struct {
	Name   string `envconfig:"NAME" default:"SOFS14"`
	Inodes uint   `envconfig:"INODES"`
	Zero   bool   `envconfig:"ZERO"`
}

func main() {
	var env envDefaults
	if err := envconfig.Process("sofs_mkfs", &env); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], err)
		os.Exit(1)
	}

	app := &cli.App{
		Name:      "mkfs_sofs14",
		Usage:     "format a regular file as a SOFS14 volume",
		ArgsUsage: "supp-file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Value: env.Name, Usage: "volume name"},
			&cli.UintFlag{Name: "inodes", Aliases: []string{"i"}, Value: env.Inodes, Usage: "number of inodes (0 selects N/8)"},
			&cli.BoolFlag{Name: "zero", Aliases: []string{"z"}, Value: env.Zero, Usage: "zero-fill free cluster payloads"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "suppress progress output"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("exactly one storage device path is required", 1)
			}
			if c.Bool("quiet") {
				logrus.SetLevel(logrus.ErrorLevel)
			}
			opts := fs.FormatOptions{
				Label:  c.String("name"),
				Inodes: uint32(c.Uint("inodes")),
				Zero:   c.Bool("zero"),
			}
			if err := fs.Format(c.Args().First(), opts); err != nil {
				return cli.Exit(fmt.Sprintf("%s: %s", c.Args().First(), err), 1)
			}
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
