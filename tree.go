package pagestore

// transactionIdEntrySize is the fixed width of a transaction id slot
// inside a tree page (spec.md §3, §4.2): a 48-bit integer, 6 bytes.
const transactionIdEntrySize = 6

// TreeNodeLocator identifies the fixed slot inside a parent tree page
// that stores one child's transaction id (spec.md §3 "TreeNode
// locator").
type TreeNodeLocator struct {
	ParentPageNumber uint64
	Offset           uint32
	EntrySize        uint32
}

// TreeCalculator is pure arithmetic over (pageSize, entrySize,
// maxNormalPageNumber): it never touches a backend. It answers how
// many tree pages a store generation needs to address every normal
// page's transaction id, and the path from the tree root to any given
// page (spec.md §4.2).
//
// The addressing space above maxNormalPageNumber is a conceptual
// entriesPerPage-ary tree of height H: level 0 is the single root
// page, level H-1 are the leaf tree pages whose slots hold normal
// pages' transaction ids directly. Every node at every level is
// assigned a fixed page number up front, whether or not a backend ever
// materializes it.
type TreeCalculator struct {
	entrySize           int
	maxNormalPageNumber uint64
	entriesPerPage      uint64
	height              int
	totalTreePages      uint64
	levelStart          []uint64 // levelStart[L] = count of nodes at levels < L
	levelNodeCount      []uint64 // levelNodeCount[L] = entriesPerPage^L
}

// NewTreeCalculator builds a calculator for the given geometry.
func NewTreeCalculator(pageSize, entrySize int, maxNormalPageNumber uint64) *TreeCalculator {
	if pageSize <= 0 || entrySize <= 0 || entrySize > pageSize {
		panic("pagestore: invalid tree calculator geometry")
	}
	entriesPerPage := uint64(pageSize / entrySize)
	if entriesPerPage < 1 {
		panic("pagestore: pageSize too small for entrySize")
	}

	height := 1
	capacity := entriesPerPage
	for capacity < maxNormalPageNumber+1 {
		capacity *= entriesPerPage
		height++
	}

	levelNodeCount := make([]uint64, height)
	levelStart := make([]uint64, height+1)
	n := uint64(1)
	for l := 0; l < height; l++ {
		levelNodeCount[l] = n
		levelStart[l+1] = levelStart[l] + n
		n *= entriesPerPage
	}

	return &TreeCalculator{
		entrySize:           entrySize,
		maxNormalPageNumber: maxNormalPageNumber,
		entriesPerPage:      entriesPerPage,
		height:              height,
		totalTreePages:      levelStart[height],
		levelStart:          levelStart,
		levelNodeCount:      levelNodeCount,
	}
}

// Height returns H, the number of tree-page levels above the normal
// pages.
func (c *TreeCalculator) Height() int { return c.height }

// EntriesPerPage returns floor(pageSize / entrySize).
func (c *TreeCalculator) EntriesPerPage() uint64 { return c.entriesPerPage }

// MaxPageNumber returns maxNormalPageNumber + the total number of tree
// pages this geometry reserves addresses for.
func (c *TreeCalculator) MaxPageNumber() uint64 {
	return c.maxNormalPageNumber + c.totalTreePages
}

// RootPageNumber returns the tree root's page number, maxNormalPageNumber+1.
func (c *TreeCalculator) RootPageNumber() uint64 {
	return c.maxNormalPageNumber + 1
}

// IsNormalPage reports whether pageNumber addresses application data
// rather than a tree node.
func (c *TreeCalculator) IsNormalPage(pageNumber uint64) bool {
	return pageNumber <= c.maxNormalPageNumber
}

func (c *TreeCalculator) pageNumberOf(level int, indexWithinLevel uint64) uint64 {
	return c.maxNormalPageNumber + 1 + c.levelStart[level] + indexWithinLevel
}

// levelOf reports the (level, indexWithinLevel) of pageNumber if it is
// a tree page. ok is false for normal pages.
func (c *TreeCalculator) levelOf(pageNumber uint64) (level int, index uint64, ok bool) {
	if pageNumber <= c.maxNormalPageNumber {
		return 0, 0, false
	}
	rel := pageNumber - (c.maxNormalPageNumber + 1)
	for l := 0; l < c.height; l++ {
		count := c.levelNodeCount[l]
		if rel < count {
			return l, rel, true
		}
		rel -= count
	}
	panic("pagestore: page number exceeds this geometry's max page number")
}

// GetPath returns the ordered list of locators from the tree root's
// child down to the slot holding pageNumber's own transaction id. The
// list has length Height() for a normal page number, and a shorter
// length for a non-root tree page number (spec.md §4.2).
func (c *TreeCalculator) GetPath(pageNumber uint64) []TreeNodeLocator {
	level, index, ok := c.levelOf(pageNumber)
	if !ok {
		// Normal page: treat as a virtual node one level below the
		// deepest tree level, with "index" equal to the page number
		// itself (entriesPerPage-ary digit decomposition still applies).
		level = c.height
		index = pageNumber
	}
	if level == 0 {
		return nil
	}

	path := make([]TreeNodeLocator, level)
	cur := index
	for l := level; l >= 1; l-- {
		childSlot := cur % c.entriesPerPage
		parentIndex := cur / c.entriesPerPage
		parentPageNumber := c.pageNumberOf(l-1, parentIndex)
		path[l-1] = TreeNodeLocator{
			ParentPageNumber: parentPageNumber,
			Offset:           uint32(childSlot) * uint32(c.entrySize),
			EntrySize:        uint32(c.entrySize),
		}
		cur = parentIndex
	}
	return path
}

// GetTransactionIdLocation returns the locator for pageNumber inside
// its parent tree page. The root tree page has no parent and returns
// ok=false.
func (c *TreeCalculator) GetTransactionIdLocation(pageNumber uint64) (TreeNodeLocator, bool) {
	path := c.GetPath(pageNumber)
	if len(path) == 0 {
		return TreeNodeLocator{}, false
	}
	return path[len(path)-1], true
}
