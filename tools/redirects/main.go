// Command redirects patches the kernel image so that calls to selected Go
// runtime functions land on kernel replacements annotated with
// //go:redirect-from. It must run from the module root.
//
// Usage:
//
//	redirects count
//	redirects list
//	redirects populate-table <kernel-image>
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[redirects] error: %s\n", err.Error())
	os.Exit(1)
}

func main() {
	flag.Parse()
	if info, err := os.Stat("kernel"); err != nil || !info.IsDir() {
		exit(errors.New("this tool must be run from the module root"))
	}

	if flag.NArg() == 0 {
		exit(errors.New("missing command"))
	}

	cmd := flag.Arg(0)
	switch cmd {
	case "count", "list":
	case "populate-table":
		if flag.NArg() != 2 {
			exit(errors.New("populate-table requires the path to the kernel image as an argument"))
		}
	default:
		exit(fmt.Errorf("unknown command %q", cmd))
	}

	prefix, err := modulePath(".")
	if err != nil {
		exit(err)
	}
	goFiles, err := collectGoFiles("kernel")
	if err != nil {
		exit(err)
	}
	redirects, err := findRedirects(prefix, goFiles)
	if err != nil {
		exit(err)
	}

	switch cmd {
	case "count":
		fmt.Printf("%d", len(redirects))
	case "list":
		for _, r := range redirects {
			fmt.Printf("%s -> %s\n", r.src, r.dst)
		}
	case "populate-table":
		if err = populateTable(flag.Arg(1), redirects); err != nil {
			exit(err)
		}
	}
}
