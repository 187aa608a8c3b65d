package stm32

// Params describes the flash geometry of a target device family.
type Params struct {
	ProductID   uint16
	FlashBase   uint32
	FlashSize   int
	PageSize    int
	SectorCount int
}

// MotionLight is the STM32L0 part on the motion light board: 64 KiB of
// flash in 128-byte pages, 128 write-protect sectors.
var MotionLight = Params{
	ProductID:   0x0425,
	FlashBase:   0x08000000,
	FlashSize:   64 * 1024,
	PageSize:    128,
	SectorCount: 128,
}

// TotalPages returns the number of flash pages on the device.
func (p Params) TotalPages() int {
	return (p.FlashSize + p.PageSize - 1) / p.PageSize
}

// PagesCovering returns the page indices that must be erased to hold an
// image of size bytes, starting at the flash base.
func (p Params) PagesCovering(size int) []int {
	if size <= 0 {
		return nil
	}
	count := (size + p.PageSize - 1) / p.PageSize
	if max := p.TotalPages(); count > max {
		count = max
	}
	pages := make([]int, count)
	for i := range pages {
		pages[i] = i
	}
	return pages
}
