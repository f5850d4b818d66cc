package emu

// Timing selects the cycle model used to price counted instructions.
type Timing struct {
	// Sequential runs every instruction through all five stages before the
	// next one is fetched.
	Sequential bool

	// Forwarding routes results from Execute and Memory straight to the
	// next instructions, so only a load followed by a use of its result
	// stalls.
	Forwarding bool
}

// stages of the classic in-order pipeline: Fetch, Decode, Execute, Memory
// and Writeback.
const stages = 5

// pipeline prices instructions as they retire on a five stage in-order
// pipeline. Registers are read in Decode and branches resolve in Execute.
// Cycle numbers are relative to the first counted fetch.
type pipeline struct {
	model   Timing
	started bool
	free    uint64         // first cycle Decode accepts a new instruction
	ready   [T6 + 1]uint64 // first cycle a register can be read in Decode
	cycles  uint64         // cycles until the last instruction left Writeback
}

// usage lists the registers an instruction reads and writes.
type usage struct {
	rd       Register
	rs       [3]Register
	nrs      int
	load     bool
	multiply bool
}

func newPipeline(model Timing) pipeline {
	return pipeline{model: model}
}

// retire accounts for one instruction that left the pipeline and returns
// the cycles it added, its data stall cycles and whether it flushed the
// front of the pipeline.
func (p *pipeline) retire(inst uint32, redirected bool) (cycles, stalls uint64, flushed bool) {
	if p.model.Sequential {
		p.cycles += stages
		return stages, 0, false
	}

	u := instUsage(inst)
	at := p.free
	if !p.started {
		// the first instruction is fetched in cycle 0
		p.started = true
		at = 1
	}
	earliest := at
	for _, rs := range u.rs[:u.nrs] {
		if rs != Zero && p.ready[rs] > at {
			at = p.ready[rs]
		}
	}
	stalls = at - earliest

	// last cycle spent in Execute
	execDone := at + 1
	if u.multiply {
		// the multiplier holds Execute for a second cycle
		execDone++
	}
	p.free = execDone

	if u.rd != Zero {
		switch {
		case !p.model.Forwarding:
			// written back two cycles after Execute, readable in Decode
			// the cycle after
			p.ready[u.rd] = execDone + 3
		case u.load:
			p.ready[u.rd] = execDone + 1
		default:
			p.ready[u.rd] = execDone
		}
	}

	if redirected {
		// the target is fetched once Execute resolved it
		p.free = execDone + 2
		flushed = true
	}

	// Memory and Writeback follow Execute
	end := execDone + 3
	if end < p.cycles {
		end = p.cycles
	}
	cycles = end - p.cycles
	p.cycles = end
	return cycles, stalls, flushed
}

func instUsage(inst uint32) usage {
	var u usage
	src := func(regs ...Register) {
		u.nrs = copy(u.rs[:], regs)
	}
	switch uint8(inst & 0x7f) {
	case OpReg, OpReg32:
		r := decodeR(inst)
		u.rd = r.rd
		src(r.rs1, r.rs2)
		u.multiply = r.funct7 == 1
	case OpImm, OpImm32, OpJalr:
		i := decodeI(inst)
		u.rd = i.rd
		src(i.rs1)
	case OpLoad:
		i := decodeI(inst)
		u.rd = i.rd
		u.load = true
		src(i.rs1)
	case OpStore:
		s := decodeS(inst)
		src(s.rs1, s.rs2)
	case OpBranch:
		b := decodeB(inst)
		src(b.rs1, b.rs2)
	case OpLui, OpAuipc:
		u.rd = decodeU(inst).rd
	case OpJal:
		u.rd = decodeJ(inst).rd
	case OpSystem:
		if inst == instEcall {
			// the trap reads its code and arguments and returns in a0
			u.rd = A0
			src(A7, A0, A1)
		}
	}
	return u
}

// CPI is the average number of cycles per counted instruction.
func (s Stats) CPI() float64 {
	if s.Instructions == 0 {
		return 0
	}
	return float64(s.Cycles) / float64(s.Instructions)
}
