package cpu

import "github.com/bobuhiro11/gox86/timing"

// Base cycle costs per family: 8086, 286, 386, 486, 586, 686. Memory bus
// cycles of the operands are added by the prefetch model before the 486.
//
//nolint:gochecknoglobals
var (
	costRR     = timing.Cost{2, 2, 2, 1, 1, 1}
	costLoad   = timing.Cost{8, 5, 4, 1, 1, 1}
	costStore  = timing.Cost{9, 3, 2, 1, 1, 1}
	costImm    = timing.Cost{4, 2, 2, 1, 1, 1}
	costALURM  = timing.Cost{9, 7, 6, 2, 2, 1}
	costALUMR  = timing.Cost{16, 7, 7, 3, 3, 1}
	costLEA    = timing.Cost{2, 3, 2, 1, 1, 1}
	costXchg   = timing.Cost{17, 5, 5, 5, 3, 2}
	costSegMov = timing.Cost{2, 2, 2, 3, 3, 1}
	costSegPM  = timing.Cost{2, 17, 18, 9, 3, 3}
	costLxS    = timing.Cost{16, 7, 7, 6, 4, 4}
	costMul    = timing.Cost{118, 21, 14, 13, 10, 4}
	costDiv    = timing.Cost{144, 22, 22, 24, 17, 17}
	costShift  = timing.Cost{8, 5, 3, 2, 1, 1}
	costBit    = timing.Cost{0, 0, 3, 3, 4, 1}
	costXadd   = timing.Cost{0, 0, 0, 4, 3, 2}

	costPush  = timing.Cost{11, 3, 2, 1, 1, 1}
	costPop   = timing.Cost{8, 5, 4, 1, 1, 1}
	costPushM = timing.Cost{16, 5, 5, 4, 2, 2}
	costPopM  = timing.Cost{17, 5, 5, 6, 3, 3}
	costPushA = timing.Cost{0, 1, 2, 11, 5, 5}
	costPopA  = timing.Cost{0, 3, 4, 9, 5, 5}
	costEachA = timing.Cost{0, 2, 2, 0, 0, 0}
	costEnter = timing.Cost{0, 11, 10, 14, 11, 11}
	costEachE = timing.Cost{0, 4, 4, 0, 0, 0}
	costLeave = timing.Cost{0, 5, 4, 5, 3, 3}

	costJcc    = timing.Cost{16, 7, 7, 3, 1, 1}
	costJccNot = timing.Cost{4, 3, 3, 1, 1, 1}
	costJmp    = timing.Cost{15, 7, 7, 3, 1, 1}
	costJmpFar = timing.Cost{15, 11, 12, 17, 3, 3}
	costCall   = timing.Cost{19, 7, 7, 3, 1, 1}
	costCallF  = timing.Cost{28, 13, 17, 18, 4, 4}
	costRet    = timing.Cost{16, 11, 10, 5, 2, 2}
	costRetF   = timing.Cost{26, 15, 18, 13, 4, 4}
	costLoop   = timing.Cost{17, 8, 11, 6, 5, 5}
	costInt    = timing.Cost{51, 23, 37, 30, 16, 16}
	costIret   = timing.Cost{24, 17, 22, 15, 8, 8}

	costFlag  = timing.Cost{2, 2, 2, 2, 2, 1}
	costCli   = timing.Cost{2, 3, 3, 5, 7, 1}
	costHlt   = timing.Cost{2, 2, 5, 4, 12, 12}
	costPushF = timing.Cost{10, 3, 4, 4, 4, 3}
	costPopF  = timing.Cost{8, 5, 5, 9, 6, 6}
	costCPUID = timing.Cost{0, 0, 0, 14, 14, 14}
	costRdtsc = timing.Cost{0, 0, 0, 0, 6, 6}
	costMSR   = timing.Cost{0, 0, 0, 0, 20, 20}
	costCR    = timing.Cost{0, 0, 10, 16, 22, 22}
	costDesc  = timing.Cost{0, 11, 11, 11, 6, 6}
	costIn    = timing.Cost{10, 5, 12, 14, 7, 7}
	costOut   = timing.Cost{10, 3, 10, 16, 12, 12}

	costString = timing.Cost{9, 5, 7, 7, 4, 3}
	costRepOne = timing.Cost{9, 4, 4, 3, 1, 1}
	costRepSet = timing.Cost{9, 5, 5, 5, 3, 3}
)
