package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/inancgumus/screen"

	"github.com/BertoldVdb/patchcoord/memhal"
	"github.com/BertoldVdb/patchcoord/patch"
)

type MEMIOListRegions struct {
}

func (l *MEMIOListRegions) Run(c *Context) error {
	fmt.Printf("Segment      |   Base   |   Length | Prot\n")

	for _, m := range c.space.Segments() {
		_, base := memhal.RecursiveGetParentAddress(m, 0)
		spans, err := c.space.QueryProtection(base, m.GetLength())
		if err != nil {
			return err
		}
		fmt.Printf("%-13s| %08x | %8x |", m.GetName(), base, m.GetLength())
		for _, s := range spans {
			fmt.Printf(" %s", s.Prot)
		}
		fmt.Printf("\n")
	}
	return nil
}

type Region struct {
	Addr int `arg name:"addr" help:"Address to access." type:"hex"`
}

type MEMIOReadCmd struct {
	Loop     int      `optional help:"0=Perform once, 1=Mark changes since start, 2=Mark changes since previous iteration."`
	Filename string   `optional help:"File to write dump to."`
	Plan     []string `optional help:"Apply these plans first and mark the patched bytes."`

	Region Region `embed`
	Amount int    `arg name:"amount" help:"Number of bytes to read." optional default:"256" type:"int"`
}

func (l *MEMIOReadCmd) claimedMarks(c *Context) []bool {
	mark := make([]bool, l.Amount)
	for i := range mark {
		mark[i] = c.ledger.IsClaimed(l.Region.Addr+i, 1)
	}
	return mark
}

func (l *MEMIOReadCmd) Run(c *Context) error {
	if l.Loop < 0 || l.Loop > 2 {
		return errors.New("Loop flag out of range")
	}

	if len(l.Plan) > 0 {
		if l.Loop != 0 {
			return errors.New("Plans can't be combined with loop mode")
		}
		if err := applyPlans(c, l.Plan); err != nil {
			return err
		}
	}

	var oldBuf []byte
	var mark []bool
	for {
		startTime := time.Now()
		if len(l.Plan) > 0 {
			mark = l.claimedMarks(c)
		} else if l.Loop == 2 || mark == nil {
			mark = make([]bool, l.Amount)
		}

		buf := make([]byte, l.Amount)
		n, err := memhal.RegionWrapCompleteIO(c.space).Access(false, l.Region.Addr, buf)
		if err != nil && n == 0 {
			return fmt.Errorf("Read error: %s", err.Error())
		}
		buf = buf[:n]

		if l.Filename != "" {
			return os.WriteFile(l.Filename, buf, 0644)
		}

		if l.Loop != 0 {
			screen.Clear()
			screen.MoveTopLeft()
			if oldBuf != nil {
				for i, m := range oldBuf {
					if i < len(buf) && m != buf[i] {
						mark[i] = true
					}
				}
			}
		}
		fmt.Println(hexdump(l.Region.Addr, buf, mark))

		oldBuf = buf

		if l.Loop == 0 {
			break
		}
		d := time.Now().Sub(startTime)
		td := 200 * time.Millisecond
		if d < td {
			time.Sleep(td - d)
		}

		/* Pick up dumps that were rewritten in the meantime */
		if c.space, err = c.config.BuildSpace(); err != nil {
			return err
		}
	}

	return nil
}

func showPatched(c *Context, addr int, length int) {
	start := addr &^ 0xF
	end := (addr + length + 0xF) &^ 0xF

	buf := make([]byte, end-start)
	n, _ := memhal.RegionWrapCompleteIO(c.space).Access(false, start, buf)
	buf = buf[:n]

	mark := make([]bool, len(buf))
	for i := range mark {
		mark[i] = start+i >= addr && start+i < addr+length
	}
	fmt.Println(hexdump(start, buf, mark))
}

type MEMIOWriteCmd struct {
	Zone  Region `embed`
	Value int    `arg name:"value" help:"Value to write." type:"int"`
}

func (w MEMIOWriteCmd) Run(c *Context) error {
	if err := c.patcher.ReplaceBytes(w.Zone.Addr, []byte{byte(w.Value)}); err != nil {
		return err
	}

	showPatched(c, w.Zone.Addr, 1)
	return nil
}

type MEMIOWriteFileCmd struct {
	Region   Region `embed`
	Filename string `arg name:"filename" help:"File to read data from."`

	Verify bool `optional name:"verify" help:"Read and verify written data."`
}

func (w MEMIOWriteFileCmd) Run(c *Context) error {
	data, err := os.ReadFile(w.Filename)
	if err != nil {
		return err
	}

	if err := c.patcher.ReplaceBytes(w.Region.Addr, data); err != nil {
		if errors.Is(err, patch.ErrorConflict) {
			return fmt.Errorf("%s: %w", w.Filename, err)
		}
		return err
	}
	fmt.Printf("Wrote %d bytes to %08x.\n", len(data), w.Region.Addr)

	if w.Verify {
		readback := make([]byte, len(data))
		_, err := memhal.RegionWrapCompleteIO(c.space).Access(false, w.Region.Addr, readback)
		if err != nil {
			return err
		}

		if !bytes.Equal(readback, data) {
			return errors.New("Failed to verify write")
		}

		fmt.Println("Verification OK.")
	}

	showPatched(c, w.Region.Addr, len(data))
	return nil
}
