package types

// A CPU is a Mach-O cpu type.
type CPU uint32

const (
	cpuArchMask = 0xff000000 // mask for architecture bits
	cpuArch64   = 0x01000000 // 64 bit ABI
)

const (
	CPU386   CPU = 7
	CPUAmd64 CPU = CPU386 | cpuArch64
	CPUArm   CPU = 12
	CPUArm64 CPU = CPUArm | cpuArch64
)

var cpuStrings = []IntName{
	{uint32(CPU386), "i386"},
	{uint32(CPUAmd64), "Amd64"},
	{uint32(CPUArm), "ARM"},
	{uint32(CPUArm64), "ARM64"},
}

func (i CPU) String() string { return StringName(uint32(i), cpuStrings, false) }

// CPUSubtype narrows a CPU to a specific microarchitecture. Only the
// constants the fat-slice selector needs to recognize are kept.
type CPUSubtype uint32

const (
	CPUSubtypeX8664All CPUSubtype = 3
	CPUSubtypeArm64All CPUSubtype = 0
	CPUSubtypeArm64E   CPUSubtype = 2
)
