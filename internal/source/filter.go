package source

import (
	"fmt"

	"golang.org/x/net/bpf"
)

// compilePortFilter accepts unfragmented IPv4 UDP packets sent to port.
// linkLen is the length of the link layer header in front of the IPv4
// header; 14 means Ethernet, whose ethertype is checked as well.
func compilePortFilter(port uint16, linkLen uint32) (*bpf.VM, error) {
	var instructions []bpf.Instruction
	if linkLen == 14 {
		instructions = append(instructions,
			// ethertype
			&bpf.LoadAbsolute{Off: 12, Size: 2},
			&bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 0x0800, SkipTrue: 7},
		)
	}
	instructions = append(instructions,
		// protocol
		&bpf.LoadAbsolute{Off: linkLen + 9, Size: 1},
		&bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 17, SkipTrue: 5},
		// fragment offset
		&bpf.LoadAbsolute{Off: linkLen + 6, Size: 2},
		&bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff, SkipTrue: 3},
		// X = IPv4 header length
		&bpf.LoadMemShift{Off: linkLen},
		// destination port
		&bpf.LoadIndirect{Off: linkLen + 2, Size: 2},
		&bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(port), SkipTrue: 1},
		&bpf.RetConstant{Val: 0},
		&bpf.RetConstant{Val: 65535},
	)

	vm, err := bpf.NewVM(instructions)
	if err != nil {
		return nil, fmt.Errorf("source: could not build port filter: %w", err)
	}
	return vm, nil
}
