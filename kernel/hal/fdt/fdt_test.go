package fdt

import (
	"rvgopher/kernel"
	"rvgopher/kernel/hal/fdt/fdttest"
	"rvgopher/kernel/mm/mmtest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func qemuBlob() *fdttest.Builder {
	b := fdttest.New()
	b.Begin("").
		Prop("#address-cells", fdttest.Cells(2)).
		Prop("#size-cells", fdttest.Cells(2)).
		Prop("compatible", fdttest.Str("riscv-virtio")).
		Begin("chosen").
		Prop("bootargs", fdttest.Str("")).
		End().
		Begin("memory@80000000").
		Prop("device_type", fdttest.Str("memory")).
		Prop("reg", fdttest.Cells(0, 0x80000000, 0, 0x8000000)).
		End().
		Begin("cpus").
		Prop("#address-cells", fdttest.Cells(1)).
		Begin("cpu@0").
		Prop("reg", fdttest.Cells(0)).
		End().
		End().
		Begin("soc").
		Begin("memory@10000000").
		Prop("reg", fdttest.Cells(0, 0x10000000, 0, 0x1000)).
		End().
		End().
		End()
	return b
}

func TestOpen(t *testing.T) {
	specs := []struct {
		descr      string
		build      func() *fdttest.Builder
		offset     uintptr
		tolerances []Tolerance
		expErr     *kernel.Error
	}{
		{"aligned blob", qemuBlob, 0, nil, nil},
		{"misaligned by 4", qemuBlob, 4, nil, errMisaligned},
		{"misaligned by 4, tolerated", qemuBlob, 4, DefaultTolerances, nil},
		{"misaligned by 2, default tolerances", qemuBlob, 2, DefaultTolerances, errMisaligned},
		{"misaligned by 2, tolerated", qemuBlob, 2, []Tolerance{Misaligned(2)}, nil},
		{
			"old version",
			func() *fdttest.Builder { b := qemuBlob(); b.Version = 16; return b },
			0, DefaultTolerances, errVersion,
		},
		{
			"unexpected last compatible version",
			func() *fdttest.Builder { b := qemuBlob(); b.LastCompVersion = 17; return b },
			0, nil, errLastCompVersion,
		},
		{
			"unexpected last compatible version, tolerated",
			func() *fdttest.Builder { b := qemuBlob(); b.LastCompVersion = 17; return b },
			0, []Tolerance{AnyLastCompVersion()}, nil,
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			addr := spec.build().Place(t, spec.offset)
			tree, err := Open(addr, spec.tolerances)
			if err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}
			if err == nil && (tree.Addr() != addr || tree.Version() != minVersion) {
				t.Fatalf("unexpected tree header: addr 0x%x version %d", tree.Addr(), tree.Version())
			}
		})
	}

	t.Run("bad magic", func(t *testing.T) {
		addr := qemuBlob().Place(t, 0)
		mmtest.Bytes(addr, 1)[0] = 0
		if _, err := Open(addr, nil); err != errBadMagic {
			t.Fatalf("expected error %v; got %v", errBadMagic, err)
		}
	})
}

func TestWalk(t *testing.T) {
	tree, err := Open(qemuBlob().Place(t, 0), nil)
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	err = tree.Walk(func(path *Path, item Item) Step {
		kind := "prop"
		if item.Kind == ItemNode {
			kind = "node"
		}
		got = append(got, path.Name()+"/"+item.Name+" "+kind)

		switch item.Name {
		case "chosen":
			return StepOver
		case "cpu@0":
			return StepOut
		case "soc":
			return Stop
		}
		return StepInto
	})
	if err != nil {
		t.Fatal(err)
	}

	exp := []string{
		"/#address-cells prop",
		"/#size-cells prop",
		"/compatible prop",
		"/chosen node",
		"/memory@80000000 node",
		"memory@80000000/device_type prop",
		"memory@80000000/reg prop",
		"/cpus node",
		"cpus/#address-cells prop",
		"cpus/cpu@0 node",
		"/soc node",
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("walk order mismatch (-want +got):\n%s", diff)
	}
}

func TestWalkStepOutOfProperty(t *testing.T) {
	tree, err := Open(qemuBlob().Place(t, 0), nil)
	if err != nil {
		t.Fatal(err)
	}

	var nodes []string
	err = tree.Walk(func(path *Path, item Item) Step {
		if item.Kind == ItemNode {
			nodes = append(nodes, item.Name)
			return StepOver
		}
		if path.IsRoot() && item.Name == "#size-cells" {
			return StepOut
		}
		return StepOver
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(nodes) != 0 {
		t.Fatalf("expected stepping out of the root to skip all nodes; visited %v", nodes)
	}
}

func TestWalkDepth(t *testing.T) {
	tree, err := Open(qemuBlob().Place(t, 0), nil)
	if err != nil {
		t.Fatal(err)
	}

	var maxDepth int
	err = tree.Walk(func(path *Path, item Item) Step {
		if path.Depth() > maxDepth {
			maxDepth = path.Depth()
		}
		return StepInto
	})
	if err != nil {
		t.Fatal(err)
	}
	if maxDepth != 2 {
		t.Fatalf("expected a max depth of 2; got %d", maxDepth)
	}
}

func TestWalkErrors(t *testing.T) {
	specs := []struct {
		descr  string
		build  func() *fdttest.Builder
		expErr *kernel.Error
	}{
		{
			"unknown token",
			func() *fdttest.Builder { b := fdttest.New(); b.Begin("").Word(7).End(); return b },
			errBadToken,
		},
		{
			"unbalanced end",
			func() *fdttest.Builder { b := fdttest.New(); b.Begin("").End().End(); return b },
			nil,
		},
		{
			"property outside the root",
			func() *fdttest.Builder { b := fdttest.New(); b.Prop("reg", fdttest.Cells(1)); return b },
			errBadToken,
		},
		{
			"missing root end",
			func() *fdttest.Builder { b := fdttest.New(); b.Begin("").Begin("a"); return b },
			nil,
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			tree, err := Open(spec.build().Place(t, 0), nil)
			if err != nil {
				t.Fatal(err)
			}
			if err = tree.Walk(func(*Path, Item) Step { return StepInto }); err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}
		})
	}

	t.Run("truncated structure block", func(t *testing.T) {
		// shrink the structure block so the walk runs off its end
		tree, err := Open(qemuBlob().Place(t, 0), nil)
		if err != nil {
			t.Fatal(err)
		}
		tree.structEnd = tree.structStart + 12
		if err = tree.Walk(func(*Path, Item) Step { return StepInto }); err != errTruncated {
			t.Fatalf("expected error %v; got %v", errTruncated, err)
		}
	})

	t.Run("too deep", func(t *testing.T) {
		b := fdttest.New().Begin("")
		for i := 0; i <= MaxDepth; i++ {
			b.Begin("n")
		}
		tree, err := Open(b.Place(t, 0), nil)
		if err != nil {
			t.Fatal(err)
		}
		if err = tree.Walk(func(*Path, Item) Step { return StepInto }); err != errTooDeep {
			t.Fatalf("expected error %v; got %v", errTooDeep, err)
		}
	})
}

func TestVisitMemRegions(t *testing.T) {
	specs := []struct {
		descr  string
		build  func() *fdttest.Builder
		exp    []Region
		expErr *kernel.Error
	}{
		{
			"qemu virt",
			qemuBlob,
			[]Region{{0x80000000, 0x8000000}},
			nil,
		},
		{
			"several nodes and entries",
			func() *fdttest.Builder {
				b := fdttest.New()
				b.Begin("").
					Prop("#address-cells", fdttest.Cells(2)).
					Prop("#size-cells", fdttest.Cells(2)).
					Begin("memory@80000000").
					Prop("reg", fdttest.Cells(0, 0x80000000, 0, 0x4000000, 0, 0x90000000, 0, 0x1000000)).
					End().
					Begin("memory@100000000").
					Prop("reg", fdttest.Cells(1, 0, 0, 0x40000000)).
					End().
					End()
				return b
			},
			[]Region{
				{0x80000000, 0x4000000},
				{0x90000000, 0x1000000},
				{0x100000000, 0x40000000},
			},
			nil,
		},
		{
			"default cells",
			func() *fdttest.Builder {
				b := fdttest.New()
				b.Begin("").
					Begin("memory").
					Prop("reg", fdttest.Cells(0, 0x80000000, 0x2000000)).
					End().
					End()
				return b
			},
			[]Region{{0x80000000, 0x2000000}},
			nil,
		},
		{
			"unsupported cells",
			func() *fdttest.Builder {
				b := fdttest.New()
				b.Begin("").
					Prop("#address-cells", fdttest.Cells(3)).
					Begin("memory").
					Prop("reg", fdttest.Cells(0, 0, 0x80000000, 0x2000000)).
					End().
					End()
				return b
			},
			nil,
			errBadCells,
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			tree, err := Open(spec.build().Place(t, 0), nil)
			if err != nil {
				t.Fatal(err)
			}

			var got []Region
			err = tree.VisitMemRegions(func(r Region) { got = append(got, r) })
			if err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}
			if diff := cmp.Diff(spec.exp, got); diff != "" {
				t.Fatalf("regions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRegion(t *testing.T) {
	r := Region{Start: 0x80000000, Size: 0x1000}
	if r.End() != 0x80001000 {
		t.Fatalf("expected end 0x80001000; got 0x%x", r.End())
	}
	for addr, exp := range map[uintptr]bool{
		0x7fffffff: false,
		0x80000000: true,
		0x80000fff: true,
		0x80001000: false,
	} {
		if got := r.Contains(addr); got != exp {
			t.Errorf("expected Contains(0x%x) to be %t; got %t", addr, exp, got)
		}
	}
}
