package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dd0wney/colstore/pkg/columnfamily"
	"github.com/dd0wney/colstore/pkg/compaction"
	"github.com/dd0wney/colstore/pkg/table"
)

type cli struct {
	tbl     *table.Table
	current *columnfamily.ColumnFamily
	scanner *bufio.Scanner
}

func main() {
	dataDir := flag.String("data", "./data/colstore", "Table root directory")
	cfName := flag.String("cf", "default", "Column family to open on start")
	flag.Parse()

	fmt.Printf("📂 Opening table at %s...\n", *dataDir)
	tbl, err := table.Open(*dataDir)
	if err != nil {
		fmt.Printf("❌ Failed to open table: %v\n", err)
		os.Exit(1)
	}
	defer tbl.Close()

	cf, err := tbl.CreateCF(*cfName)
	if err != nil {
		fmt.Printf("❌ Failed to open column family %q: %v\n", *cfName, err)
		os.Exit(1)
	}
	fmt.Printf("✅ Column family %q ready\n\n", *cfName)

	c := &cli{tbl: tbl, current: cf, scanner: bufio.NewScanner(os.Stdin)}
	fmt.Println("Type 'help' for available commands, 'exit' to quit")
	c.run()
}

func (c *cli) run() {
	for {
		fmt.Print("colstore> ")
		if !c.scanner.Scan() {
			return
		}
		line := strings.TrimSpace(c.scanner.Text())
		if line == "" {
			continue
		}
		args := strings.Fields(line)
		switch args[0] {
		case "exit", "quit":
			return
		case "help":
			c.help()
		case "put":
			c.put(args[1:])
		case "get":
			c.get(args[1:])
		case "versions":
			c.versions(args[1:])
		case "delete":
			c.delete(args[1:])
		case "flush":
			c.flush()
		case "compact":
			c.compact(args[1:])
		case "sstables":
			fmt.Println(c.current.SSTablePaths())
		default:
			fmt.Printf("unknown command: %s\n", args[0])
		}
	}
}

func (c *cli) help() {
	fmt.Println(`Commands:
  put <row> <col> <value>
  get <row> <col>
  versions <row> <col> [max]
  delete <row> <col> [ttl_ms]
  flush
  compact minor|major [cleanup]
  sstables
  exit`)
}

func (c *cli) put(args []string) {
	if len(args) != 3 {
		fmt.Println("usage: put <row> <col> <value>")
		return
	}
	if err := c.current.Put([]byte(args[0]), []byte(args[1]), []byte(args[2])); err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	fmt.Println("✅ ok")
}

func (c *cli) get(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: get <row> <col>")
		return
	}
	val, ok, err := c.current.Get([]byte(args[0]), []byte(args[1]))
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	if !ok {
		fmt.Println("(absent)")
		return
	}
	fmt.Println(string(val))
}

func (c *cli) versions(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: versions <row> <col> [max]")
		return
	}
	max := 10
	if len(args) == 3 {
		if n, err := strconv.Atoi(args[2]); err == nil {
			max = n
		}
	}
	vs, err := c.current.GetVersions([]byte(args[0]), []byte(args[1]), max)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	for _, v := range vs {
		fmt.Printf("%d: %s\n", v.Ts, v.Value)
	}
}

func (c *cli) delete(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: delete <row> <col> [ttl_ms]")
		return
	}
	var ttl int64
	if len(args) == 3 {
		if n, err := strconv.ParseInt(args[2], 10, 64); err == nil {
			ttl = n
		}
	}
	if err := c.current.Delete([]byte(args[0]), []byte(args[1]), ttl); err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	fmt.Println("✅ ok")
}

func (c *cli) flush() {
	if err := c.current.Flush(); err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	fmt.Println("✅ flushed")
}

func (c *cli) compact(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: compact minor|major [cleanup]")
		return
	}
	opts := compaction.Options{CleanupTombstones: len(args) > 1 && args[1] == "cleanup"}
	switch args[0] {
	case "minor":
		opts.Type = compaction.Minor
	case "major":
		opts.Type = compaction.Major
	default:
		fmt.Println("unknown compaction type")
		return
	}
	if err := c.current.Compact(opts); err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	fmt.Println("✅ compacted")
}
