// Package story holds the branch-key addressing scheme and the chapter
// content model of the narrative tree.
package story

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RootKey addresses chapter 0, scene 1: the start of every run.
const RootKey = "root"

var segmentPattern = regexp.MustCompile(`^S(\d+):([A-Za-z]+)$`)

// ParseKey decodes a branch key into its chapter index. The scene index is
// always normalized to 1: scene-level progress is not recoverable from the
// key and must be carried by the caller (the pending-token payload does).
func ParseKey(key string) (chapterIndex, sceneIndex int, err error) {
	if key == RootKey {
		return 0, 1, nil
	}
	segments := strings.Split(key, "|")
	last := segments[len(segments)-1]
	m := segmentPattern.FindStringSubmatch(last)
	if m == nil {
		return 0, 0, fmt.Errorf("malformed branch key %q", key)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, 0, fmt.Errorf("malformed branch key %q: bad chapter index", key)
	}
	return n, 1, nil
}

// NextKey extends a branch key with the next chapter's segment. Pure and
// total: any current key and option id produce a valid key.
func NextKey(current string, nextChapterIndex int, optionID string) string {
	segment := fmt.Sprintf("S%d:%s", nextChapterIndex, optionID)
	if current == RootKey {
		return segment
	}
	return current + "|" + segment
}
