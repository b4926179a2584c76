// Package classifier decides whether a document change can skip
// re-analysis, by comparing per-line hashes of the normalized text against
// a prior snapshot.
package classifier

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// Reason names why a classification decision was reached.
type Reason string

const (
	ReasonNoCache          Reason = "no_cache"
	ReasonSemanticUnchanged Reason = "semantic_unchanged"
	ReasonSemanticChanged   Reason = "semantic_changed"
	ReasonContentUnchanged  Reason = "content_unchanged"
	ReasonFullReplacement   Reason = "full_replacement"
)

// Range is an inclusive line range from a didChange notification, matching
// the editor's zero-based line numbering.
type Range struct {
	StartLine int
	EndLine   int
}

// Snapshot is the prior classifier-relevant state of a document: the hash
// of the full text plus the per-line hashes computed at the last
// successful analysis.
type Snapshot struct {
	ContentHash string
	LineHashes  []string
}

// Decision is the classifier's verdict, and the freshly computed hashes so
// the caller never has to recompute them.
type Decision struct {
	CanSkip     bool
	Reason      Reason
	ContentHash string
	LineHashes  []string
}

// Classify runs the decision procedure against text's current content. rng
// is nil for a full-document replacement notification.
func Classify(prior *Snapshot, text string, rng *Range) Decision {
	lineHashes := HashLines(text)
	contentHash := HashContent(text)

	if prior == nil {
		return Decision{CanSkip: false, Reason: ReasonNoCache, ContentHash: contentHash, LineHashes: lineHashes}
	}

	if rng != nil && len(prior.LineHashes) > 0 {
		if rangeUnchanged(prior.LineHashes, lineHashes, *rng) {
			return Decision{CanSkip: true, Reason: ReasonSemanticUnchanged, ContentHash: contentHash, LineHashes: lineHashes}
		}

		return Decision{CanSkip: false, Reason: ReasonSemanticChanged, ContentHash: contentHash, LineHashes: lineHashes}
	}

	if prior.ContentHash == contentHash {
		return Decision{CanSkip: true, Reason: ReasonContentUnchanged, ContentHash: contentHash, LineHashes: lineHashes}
	}

	return Decision{CanSkip: false, Reason: ReasonFullReplacement, ContentHash: contentHash, LineHashes: lineHashes}
}

// rangeUnchanged compares only the lines inside [rng.StartLine, rng.EndLine].
// A line present in one hash slice but not the other (the document grew or
// shrank at its boundary) counts as changed.
func rangeUnchanged(oldHashes, newHashes []string, rng Range) bool {
	start := rng.StartLine
	end := rng.EndLine

	for line := start; line <= end; line++ {
		oldHash, oldOK := lineAt(oldHashes, line)
		newHash, newOK := lineAt(newHashes, line)

		if oldOK != newOK || oldHash != newHash {
			return false
		}
	}

	return true
}

func lineAt(hashes []string, line int) (string, bool) {
	if line < 0 || line >= len(hashes) {
		return "", false
	}

	return hashes[line], true
}

// HashContent returns a stable hash of the full document text, unnormalized.
func HashContent(text string) string {
	return hashString(text)
}

// HashLines returns one hash per line of text, after normalization
// (comment-stripping and trailing-whitespace trim). The returned slice
// always has at least as many entries as the document has lines, per the
// data model's invariant.
func HashLines(text string) []string {
	lines := strings.Split(text, "\n")
	hashes := make([]string, len(lines))

	for i, line := range lines {
		hashes[i] = hashString(normalizeLine(line))
	}

	return hashes
}

// normalizeLine strips a trailing line comment and trims trailing
// whitespace, so that a comment edit or whitespace-only edit never causes
// a false "semantic_changed" verdict.
func normalizeLine(line string) string {
	if idx := strings.Index(line, "//"); idx >= 0 {
		line = line[:idx]
	}

	return strings.TrimRight(line, " \t\r")
}

// hashString computes an FNV-1a digest, rendered as lowercase hex. FNV-1a
// rather than a cryptographic hash: these hashes only need to distinguish
// "changed" from "unchanged" line content, never to resist deliberate
// collision.
func hashString(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))

	return strconv.FormatUint(h.Sum64(), 16)
}
