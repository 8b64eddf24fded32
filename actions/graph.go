package actions

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// commitNode is the minimal view of a commit the graph renderer needs: its
// hash, parent hashes, and whatever label the caller wants printed next to
// it. revup builds these from gitops.CommitHeader plus a topic annotation
// rather than from a go-git object store.
type commitNode struct {
	hash    string
	parents []string
	label   string
}

type graphColumn struct {
	commit *commitNode
}

type graphState int

const (
	graphStatePadding graphState = iota
	graphStateSkip
	graphStatePreCommit
	graphStateCommit
	graphStatePostMerge
	graphStateCollapsing
)

// graph is an ASCII git-log-graph renderer, heavily inspired by the
// asciidag Python implementation: https://github.com/sambrightman/asciidag
type graph struct {
	commits map[string]*commitNode
	outfile *bufio.Writer

	commit          *commitNode
	buf             string
	firstParentOnly bool
	numParents      int
	width           int
	expansionRow    int
	state           graphState
	prevState       graphState
	commitIndex     int
	prevCommitIndex int
	numColumns      int
	numNewColumns   int
	mappingSize     int
	columns         map[int]graphColumn
	newColumns      map[int]graphColumn
	mapping         map[int]int
	newMapping      map[int]int
}

func newGraph(commits map[string]*commitNode, outfile io.Writer) *graph {
	return &graph{
		commits:    commits,
		outfile:    bufio.NewWriter(outfile),
		columns:    map[int]graphColumn{},
		newColumns: map[int]graphColumn{},
		mapping:    map[int]int{},
		newMapping: map[int]int{},
	}
}

// render draws the whole graph for sorted (newest first) to outfile,
// printing each commit's label to the right of its graph line.
func (g *graph) render(sorted []*commitNode) {
	for _, commit := range sorted {
		g.update(commit)
		g.showCommit()

		hash := commit.hash
		if len(hash) > 8 {
			hash = hash[:8]
		}
		_, _ = g.outfile.WriteString(fmt.Sprintf("%s %s", hash, commit.label))
		if !g.isCommitFinished() {
			_, _ = g.outfile.WriteString("\n")
			g.showRemainder()
		}
		_, _ = g.outfile.WriteString("\n")
	}
	g.outfile.Flush()
}

func (g *graph) writeColumn(col graphColumn, colChar string) {
	g.buf += colChar
}

func (g *graph) updateState(state graphState) {
	g.prevState = g.state
	g.state = state
}

func (g *graph) interestingParents() []*commitNode {
	hashes := g.commit.parents
	if g.firstParentOnly && len(hashes) > 1 {
		hashes = hashes[:1]
	}
	parents := make([]*commitNode, len(hashes))
	for i, hash := range hashes {
		commit, ok := g.commits[hash]
		if !ok {
			continue
		}
		parents[i] = commit
	}
	return parents
}

func (g *graph) insertIntoNewColumns(commit *commitNode, mappingIndex int) int {
	// If the commit is already in the newColumns list, we don't need to
	// add it. Just update the mapping correctly.
	for i := 0; i < g.numNewColumns; i++ {
		if g.newColumns[i].commit == commit {
			g.mapping[mappingIndex] = i
			return mappingIndex + 2
		}
	}

	// This commit isn't already in newColumns. Add it.
	g.newColumns[g.numNewColumns] = graphColumn{commit: commit}
	g.mapping[mappingIndex] = g.numNewColumns
	g.numNewColumns += 1
	return mappingIndex + 2
}

func (g *graph) updateWidth(isCommitInExistingColumns bool) {
	// Compute the width needed to display the graph for this commit.
	// This is the maximum width needed for any row. All other rows
	// will be padded to this width.
	maxCols := g.numColumns + g.numParents

	// Even if the current commit has no parents to be printed, it
	// still takes up a column for it.
	if g.numParents < 1 {
		maxCols += 1
	}

	// We added a column for the current commit as part of
	// g.numParents. If the current commit was already in
	// g.columns, then we have double counted it.
	if isCommitInExistingColumns {
		maxCols -= 1
	}

	// Each column takes up 2 spaces
	g.width = maxCols * 2
}

func (g *graph) updateColumns() {
	// Swap g.columns with g.newColumns.
	g.columns, g.newColumns = g.newColumns, g.columns
	g.numColumns = g.numNewColumns
	g.numNewColumns = 0

	maxNewColumns := g.numColumns + g.numParents

	g.mappingSize = 2 * maxNewColumns
	for i := 0; i < g.mappingSize; i++ {
		g.mapping[i] = -1
	}

	seenThis := false
	mappingIdx := 0
	isCommitInColumns := true
	for i := 0; i <= g.numColumns; i++ {
		var colCommit *commitNode
		if i == g.numColumns {
			if seenThis {
				break
			}
			isCommitInColumns = false
			colCommit = g.commit
		} else {
			colCommit = g.columns[i].commit
		}

		if colCommit == g.commit {
			oldMappingIdx := mappingIdx
			seenThis = true
			g.commitIndex = i
			for _, parent := range g.interestingParents() {
				mappingIdx = g.insertIntoNewColumns(parent, mappingIdx)
			}
			// The current commit always takes up at least 2 spaces.
			if mappingIdx == oldMappingIdx {
				mappingIdx += 2
			}
		} else {
			mappingIdx = g.insertIntoNewColumns(colCommit, mappingIdx)
		}
	}

	// Shrink mappingSize to be the minimum necessary
	for g.mappingSize > 1 && g.mapping[g.mappingSize-1] < 0 {
		g.mappingSize -= 1
	}

	g.updateWidth(isCommitInColumns)
}

func (g *graph) update(commit *commitNode) {
	g.commit = commit
	g.numParents = len(g.interestingParents())

	g.prevCommitIndex = g.commitIndex

	g.updateColumns()
	g.expansionRow = 0

	// If the previous commit didn't get to the padding state, it never
	// finished its output; skip to graphStateSkip to indicate the gap.
	//
	// With 3+ parents, extra rows may be needed before the commit to
	// expand the branch lines and make room for it.
	if g.state != graphStatePadding {
		g.state = graphStateSkip
	} else if g.numParents >= 3 && g.commitIndex < g.numColumns-1 {
		g.state = graphStatePreCommit
	} else {
		g.state = graphStateCommit
	}
}

func (g *graph) isMappingCorrect() bool {
	// The mapping is up to date if each entry is at its target, or is 1
	// greater than its target (then '/' prints, looking correct next row).
	for i := 0; i < g.mappingSize; i++ {
		target := g.mapping[i]
		if target < 0 {
			continue
		}
		if target == i/2 {
			continue
		}
		return false
	}
	return true
}

func (g *graph) padHorizontally(charsWritten int) {
	if charsWritten >= g.width {
		return
	}
	extra := g.width - charsWritten
	g.buf += strings.Repeat(" ", extra)
}

func (g *graph) outputPaddingLine() {
	for i := 0; i < g.numNewColumns; i++ {
		g.writeColumn(g.newColumns[i], "|")
		g.buf += " "
	}
	g.padHorizontally(g.numNewColumns * 2)
}

func (g *graph) outputSkipLine() {
	g.buf += "..."
	g.padHorizontally(3)

	if g.numParents >= 3 && g.commitIndex < g.numColumns-1 {
		g.updateState(graphStatePreCommit)
	} else {
		g.updateState(graphStateCommit)
	}
}

func (g *graph) outputPreCommitLine() {
	if g.numParents < 3 {
		panic("not enough parents to add expansion row")
	}
	numExpansionRows := (g.numParents - 2) * 2

	if g.expansionRow < 0 || g.expansionRow >= numExpansionRows {
		panic("wrong number of expansion rows")
	}

	seenThis := false
	charsWritten := 0
	for i := 0; i < g.numColumns; i++ {
		col := g.columns[i]
		if col.commit == g.commit {
			seenThis = true
			g.writeColumn(col, "|")
			g.buf += strings.Repeat(" ", g.expansionRow)
			charsWritten += 1 + g.expansionRow
		} else if seenThis && g.expansionRow == 0 {
			if g.prevState == graphStatePostMerge && g.prevCommitIndex < i {
				g.writeColumn(col, "\\")
			} else {
				g.writeColumn(col, "|")
			}
			charsWritten += 1
		} else if seenThis && g.expansionRow > 0 {
			g.writeColumn(col, "\\")
			charsWritten += 1
		} else {
			g.writeColumn(col, "|")
			charsWritten += 1
		}
		g.buf += " "
		charsWritten += 1
	}

	g.padHorizontally(charsWritten)

	g.expansionRow += 1
	if g.expansionRow >= numExpansionRows {
		g.updateState(graphStateCommit)
	}
}

// Draw an octopus merge and return the number of characters written.
func (g *graph) drawOctopusMerge() int {
	dashlessCommits := 2
	numDashes := (g.numParents-dashlessCommits)*2 - 1
	colNum := 0
	for i := 0; i < numDashes; i++ {
		colNum = i/2 + dashlessCommits + g.commitIndex
		g.writeColumn(g.newColumns[colNum], "-")
	}
	colNum = numDashes/2 + dashlessCommits + g.commitIndex
	g.writeColumn(g.newColumns[colNum], ".")
	return numDashes + 1
}

func (g *graph) outputCommitLine() {
	seenThis := false
	charsWritten := 0
	for i := 0; i <= g.numColumns; i++ {
		var col graphColumn
		var colCommit *commitNode
		if i == g.numColumns {
			if seenThis {
				break
			}
			colCommit = g.commit
		} else {
			col = g.columns[i]
			colCommit = col.commit
		}

		if colCommit == g.commit {
			seenThis = true
			g.buf += "*"
			charsWritten += 1

			if g.numParents > 2 {
				charsWritten += g.drawOctopusMerge()
			}
		} else if seenThis && g.numParents > 2 {
			g.writeColumn(col, "\\")
			charsWritten += 1
		} else if seenThis && g.numParents == 2 {
			if g.prevState == graphStatePostMerge && g.prevCommitIndex < i {
				g.writeColumn(col, "\\")
			} else {
				g.writeColumn(col, "|")
			}
			charsWritten += 1
		} else {
			g.writeColumn(col, "|")
			charsWritten += 1
		}
		g.buf += " "
		charsWritten += 1
	}

	g.padHorizontally(charsWritten)

	if g.numParents > 1 {
		g.updateState(graphStatePostMerge)
	} else if g.isMappingCorrect() {
		g.updateState(graphStatePadding)
	} else {
		g.updateState(graphStateCollapsing)
	}
}

func (g *graph) findNewColumnByCommit(commit *commitNode) *graphColumn {
	for i := 0; i < g.numNewColumns; i++ {
		if g.newColumns[i].commit.hash == commit.hash {
			col := g.newColumns[i]
			return &col
		}
	}
	return nil
}

func (g *graph) outputPostMergeLine() {
	seenThis := false
	charsWritten := 0
	for i := 0; i <= g.numColumns; i++ {
		var col *graphColumn
		var colCommit *commitNode
		if i == g.numColumns {
			if seenThis {
				break
			}
			colCommit = g.commit
		} else {
			colI := g.columns[i]
			col = &colI
			colCommit = colI.commit
		}

		if colCommit.hash == g.commit.hash {
			seenThis = true
			parents := g.interestingParents()
			if len(parents) == 0 {
				panic("merge has no parents")
			}
			parColumn := g.findNewColumnByCommit(parents[0])
			if parColumn == nil {
				panic("parent column not found")
			}
			g.writeColumn(*parColumn, "|")
			charsWritten += 1
			for _, parent := range parents {
				parColumn = g.findNewColumnByCommit(parent)
				g.writeColumn(*parColumn, "\\")
				g.buf += " "
			}
			charsWritten += (g.numParents - 1) * 2
		} else if seenThis {
			g.writeColumn(*col, "\\")
			g.buf += " "
			charsWritten += 2
		} else {
			g.writeColumn(*col, "|")
			g.buf += " "
			charsWritten += 2
		}
	}

	g.padHorizontally(charsWritten)

	if g.isMappingCorrect() {
		g.updateState(graphStatePadding)
	} else {
		g.updateState(graphStateCollapsing)
	}
}

func (g *graph) outputCollapsingLine() {
	usedHorizontal := false
	horizontalEdge := -1
	horizontalEdgeTarget := -1

	for i := 0; i < g.mappingSize; i++ {
		g.newMapping[i] = -1
	}

	for i := 0; i < g.mappingSize; i++ {
		target := g.mapping[i]
		if target < 0 {
			continue
		}

		if target*2 > i {
			panic(fmt.Sprintf("position %v targetting column %v", i, target*2))
		}

		if target*2 == i {
			if g.newMapping[i] != -1 {
				panic("new mapping already set")
			}
			g.newMapping[i] = target
		} else if g.newMapping[i-1] < 0 {
			g.newMapping[i-1] = target
			if horizontalEdge == -1 {
				horizontalEdge = i
				horizontalEdgeTarget = target
				for j := target*2 + 3; j < i-2; j += 2 {
					g.newMapping[j] = target
				}
			}
		} else if g.newMapping[i-1] == target {
			// Already have a branch line to our left sharing the same
			// parent commit; nothing more to do.
		} else {
			if g.newMapping[i-1] <= target || g.newMapping[i-2] >= 0 || g.newMapping[i-3] != target {
				panic("uh oh")
			}
			g.newMapping[i-2] = target
			if horizontalEdge == -1 {
				horizontalEdge = i
			}
		}
	}

	// The new mapping may be 1 smaller than the old mapping
	if g.newMapping[g.mappingSize-1] < 0 {
		g.mappingSize -= 1
	}

	for i := 0; i < g.mappingSize; i++ {
		target := g.newMapping[i]
		if target < 0 {
			g.buf += " "
		} else if target*2 == i {
			g.writeColumn(g.newColumns[target], "|")
		} else if target == horizontalEdgeTarget && i != horizontalEdge-1 {
			if i != target*2+3 {
				g.newMapping[i] = -1
			}
			usedHorizontal = true
			g.writeColumn(g.newColumns[target], "_")
		} else {
			if usedHorizontal && i < horizontalEdge {
				g.newMapping[i] = -1
			}
			g.writeColumn(g.newColumns[target], "/")
		}
	}

	g.padHorizontally(g.mappingSize)
	g.mapping, g.newMapping = g.newMapping, g.mapping

	if g.isMappingCorrect() {
		g.updateState(graphStatePadding)
	}
}

func (g *graph) nextLine() bool {
	prevState := g.state
	switch g.state {
	case graphStatePadding:
		g.outputPaddingLine()
	case graphStateSkip:
		g.outputSkipLine()
	case graphStatePreCommit:
		g.outputPreCommitLine()
	case graphStateCommit:
		g.outputCommitLine()
	case graphStatePostMerge:
		g.outputPostMergeLine()
	case graphStateCollapsing:
		g.outputCollapsingLine()
	}
	return prevState == graphStateCommit
}

func (g *graph) isCommitFinished() bool {
	return g.state == graphStatePadding
}

func (g *graph) showCommit() {
	shownCommitLine := false

	for !shownCommitLine && !g.isCommitFinished() {
		shownCommitLine = g.nextLine()
		_, _ = g.outfile.WriteString(g.buf)
		if !shownCommitLine {
			_, _ = g.outfile.WriteString("\n")
		}
		g.buf = ""
	}
}

func (g *graph) showRemainder() bool {
	shown := false

	if g.isCommitFinished() {
		return false
	}

	for {
		g.nextLine()
		_, _ = g.outfile.WriteString(g.buf)
		g.buf = ""
		shown = true

		if g.isCommitFinished() {
			break
		}
		_, _ = g.outfile.WriteString("\n")
	}

	return shown
}
