// Package diffseq computes edit scripts between two ordered ID sequences as
// (start, end, replacement) opcode triples, per spec.md §4.7's sorted-link
// incremental-update contract. It operates on arbitrary comparable elements
// (instance ids), unlike github.com/sergi/go-diff which is rune/line
// oriented — that library is instead used elsewhere for human-readable
// audit trails over JSON text, a genuinely different job (see DESIGN.md).
package diffseq

// Op is one edit: replace A[Start:End] with Replacement to move toward B.
// Start == End is a pure insertion; len(Replacement) == 0 is a pure
// deletion.
type Op struct {
	Start, End  int
	Replacement []string
}

// Diff computes the minimal-ish edit script from a to b using a classic
// O(len(a)·len(b)) LCS dynamic-programming table. Sequences in this package are
// expected to be short (a sorted link's visible window), so the quadratic
// table is acceptable; see DESIGN.md.
func Diff(a, b []string) []Op {
	m, n := len(a), len(b)
	lcs := make([][]int, m+1)
	for i := range lcs {
		lcs[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []Op
	i, j := 0, 0
	for i < m && j < n {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		startI, startJ := i, j
		for i < m && j < n && a[i] != b[j] {
			if lcs[i+1][j] >= lcs[i][j+1] {
				i++
			} else {
				j++
			}
		}
		ops = append(ops, Op{Start: startI, End: i, Replacement: append([]string(nil), b[startJ:j]...)})
	}
	if i < m {
		ops = append(ops, Op{Start: i, End: m, Replacement: nil})
	} else if j < n {
		ops = append(ops, Op{Start: i, End: i, Replacement: append([]string(nil), b[j:n]...)})
	}
	return ops
}

// Apply replays ops against a and returns the resulting sequence, used both
// to verify Diff's round-trip property in tests and by link delivery to
// reconstruct a client's view incrementally instead of resending the whole
// window.
func Apply(a []string, ops []Op) []string {
	out := append([]string(nil), a...)
	// Apply back-to-front so earlier offsets stay valid as length changes.
	for k := len(ops) - 1; k >= 0; k-- {
		op := ops[k]
		tail := append([]string(nil), out[op.End:]...)
		out = append(out[:op.Start], append(append([]string(nil), op.Replacement...), tail...)...)
	}
	return out
}
