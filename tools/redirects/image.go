package main

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
)

const (
	redirectSection = ".goredirectstbl"

	// redirectEntrySize is the size of a (src, dst) VMA pair in the table.
	redirectEntrySize = 16
)

// kernelImage is an opened riscv64 kernel ELF file.
type kernelImage struct {
	path string
	file *elf.File
}

// openKernelImage opens path and checks that it is a riscv64 ELF image.
func openKernelImage(path string) (*kernelImage, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}

	if f.Machine != elf.EM_RISCV || f.Class != elf.ELFCLASS64 {
		f.Close()
		return nil, fmt.Errorf("%s: not a riscv64 ELF image", path)
	}
	return &kernelImage{path: path, file: f}, nil
}

func (img *kernelImage) Close() error { return img.file.Close() }

// resolve fills in the VMAs of every redirect from the image symbol table.
func (img *kernelImage) resolve(redirects []*redirect) error {
	symbols, err := img.file.Symbols()
	if err != nil {
		return fmt.Errorf("%s: %w", img.path, err)
	}

	vmas := make(map[string]uint64, len(symbols))
	for _, sym := range symbols {
		vmas[sym.Name] = sym.Value
	}
	return resolveRedirects(redirects, vmas)
}

func resolveRedirects(redirects []*redirect, vmas map[string]uint64) error {
	for _, r := range redirects {
		r.srcVMA, r.dstVMA = vmas[r.src], vmas[r.dst]
		if r.srcVMA == 0 {
			return fmt.Errorf("could not locate address of %q", r.src)
		}
		if r.dstVMA == 0 {
			return fmt.Errorf("could not locate address of %q", r.dst)
		}
	}
	return nil
}

// tableOffset returns the file offset of the redirect table after checking
// that it can hold entries pairs.
func (img *kernelImage) tableOffset(entries int) (int64, error) {
	section := img.file.Section(redirectSection)
	if section == nil {
		return 0, fmt.Errorf("%s: missing %s section", img.path, redirectSection)
	}

	if need := uint64(entries * redirectEntrySize); section.Size < need {
		return 0, fmt.Errorf("%s: %s holds %d bytes; %d redirects need %d", img.path, redirectSection, section.Size, entries, need)
	}
	return int64(section.Offset), nil
}

// encodeTable lays out the (src, dst) pairs the way the kernel reads them.
func encodeTable(redirects []*redirect) []byte {
	table := make([]byte, 0, len(redirects)*redirectEntrySize)
	for _, r := range redirects {
		table = binary.LittleEndian.AppendUint64(table, r.srcVMA)
		table = binary.LittleEndian.AppendUint64(table, r.dstVMA)
	}
	return table
}

// populateTable resolves redirects against the image at path and writes
// them into its redirect table.
func populateTable(path string, redirects []*redirect) error {
	img, err := openKernelImage(path)
	if err != nil {
		return err
	}
	defer img.Close()

	if err = img.resolve(redirects); err != nil {
		return err
	}
	offset, err := img.tableOffset(len(redirects))
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err = f.WriteAt(encodeTable(redirects), offset); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
