// showblock prints the metadata structures of a SOFS14 volume: the
// superblock, a block of the inode table, or a data cluster interpreted as
// raw bytes, directory entries or cluster references.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/luminoso/SOFS14/common"
	"github.com/luminoso/SOFS14/device"
	"github.com/luminoso/SOFS14/itable"
	"github.com/luminoso/SOFS14/super"
)

func main() {
	app := &cli.App{
		Name:      "showblock",
		Usage:     "display SOFS14 metadata structures",
		ArgsUsage: "supp-file",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "super", Aliases: []string{"s"}, Usage: "show the superblock"},
			&cli.UintFlag{Name: "itable", Aliases: []string{"i"}, Value: ^uint(0), Usage: "show inode table block N"},
			&cli.UintFlag{Name: "dir", Aliases: []string{"d"}, Value: ^uint(0), Usage: "show cluster N as directory entries"},
			&cli.UintFlag{Name: "refs", Aliases: []string{"r"}, Value: ^uint(0), Usage: "show cluster N as cluster references"},
			&cli.UintFlag{Name: "data", Aliases: []string{"b"}, Value: ^uint(0), Usage: "show cluster N as raw bytes"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one storage device path is required", 1)
	}
	dev, err := device.Open(c.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("%s: %s", c.Args().First(), err), 1)
	}
	defer dev.Close()

	sup := super.NewStore(dev)
	if err := sup.Load(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	sb := sup.Get()

	unset := ^uint(0)
	switch {
	case c.Bool("super"):
		showSuper(sb)
	case c.Uint("itable") != unset:
		return showITable(dev, sup, uint32(c.Uint("itable")))
	case c.Uint("dir") != unset:
		return showCluster(dev, sb, uint32(c.Uint("dir")), "dir")
	case c.Uint("refs") != unset:
		return showCluster(dev, sb, uint32(c.Uint("refs")), "refs")
	case c.Uint("data") != unset:
		return showCluster(dev, sb, uint32(c.Uint("data")), "data")
	default:
		showSuper(sb)
	}
	return nil
}

func showSuper(sb *common.SuperBlock) {
	fmt.Printf("magic      0x%04X\n", sb.Magic)
	fmt.Printf("version    %d\n", sb.Version)
	fmt.Printf("name       %q\n", sb.Name())
	fmt.Printf("fsid       %s\n", hex.EncodeToString(sb.FSID[:]))
	fmt.Printf("mstat      0x%02X\n", sb.MStat)
	fmt.Printf("ntotal     %d\n", sb.NTotal)
	fmt.Printf("itable     start %d size %d total %d free %d head %s tail %s\n",
		sb.ITableStart, sb.ITableSize, sb.ITotal, sb.IFree, ref(sb.IHead), ref(sb.ITail))
	fmt.Printf("dzone      start %d total %d free %d head %s tail %s\n",
		sb.DZoneStart, sb.DZoneTotal, sb.DZoneFree, ref(sb.DHead), ref(sb.DTail))
	fmt.Printf("retrieval  idx %d %s\n", sb.DZoneRetriev.CacheIdx, cacheRefs(&sb.DZoneRetriev))
	fmt.Printf("insertion  idx %d %s\n", sb.DZoneInsert.CacheIdx, cacheRefs(&sb.DZoneInsert))
}

func ref(v uint32) string {
	if v == common.NULL_CLUSTER {
		return "(nil)"
	}
	return fmt.Sprintf("%d", v)
}

func cacheRefs(rc *common.RefCache) string {
	out := ""
	for i := 0; i < common.DZONE_CACHE_SIZE; i++ {
		if rc.Cache[i] != common.NULL_CLUSTER {
			out += fmt.Sprintf("%d ", rc.Cache[i])
		}
	}
	if out == "" {
		return "(empty)"
	}
	return out
}

func showITable(dev common.BlockDevice, sup *super.Store, nBlk uint32) error {
	it := itable.NewStore(dev, sup)
	if err := it.LoadBlock(nBlk); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	for i, ip := range it.GetBlock() {
		n := nBlk*common.IPB + uint32(i)
		fmt.Printf("inode %-4d mode 0x%04X refs %d owner %d group %d size %d clusters %d",
			n, ip.Mode, ip.RefCount, ip.Owner, ip.Group, ip.Size, ip.CluCount)
		if ip.IsFree() {
			fmt.Printf(" next %s prev %s\n", ref(ip.Next()), ref(ip.Prev()))
		} else {
			fmt.Printf(" atime %d mtime %d\n", ip.ATime(), ip.MTime())
		}
		fmt.Printf("           d %v i1 %s i2 %s\n", ip.D, ref(ip.I1), ref(ip.I2))
	}
	return nil
}

func showCluster(dev common.BlockDevice, sb *common.SuperBlock, n uint32, mode string) error {
	if n >= sb.DZoneTotal {
		return cli.Exit("cluster number out of range", 1)
	}
	dc, err := common.ReadDataClust(dev, sb, n)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Printf("cluster %d prev %s next %s stat %s\n", n, ref(dc.Prev), ref(dc.Next), ref(dc.Stat))
	switch mode {
	case "dir":
		for i := 0; i < common.DPC; i++ {
			de := dc.DirEntry(i)
			switch {
			case de.IsInUse():
				fmt.Printf("  %-3d %-20q -> inode %d\n", i, de.NameString(), de.NInode)
			case de.IsDeleted():
				fmt.Printf("  %-3d (deleted)            -> inode %d\n", i, de.NInode)
			}
		}
	case "refs":
		for i := 0; i < common.RPC; i++ {
			if r := dc.Ref(i); r != common.NULL_CLUSTER {
				fmt.Printf("  %-4d -> cluster %d\n", i, r)
			}
		}
	default:
		fmt.Println(hex.Dump(dc.Info[:]))
	}
	return nil
}
